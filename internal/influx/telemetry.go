package influx

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/shardfall/shardfall/internal/resource"
)

// Telemetry records protocol outcomes of one session as points. It
// satisfies gather.Events.
type Telemetry struct {
	m       *Manager
	session string
	clock   func() time.Time
}

func NewTelemetry(m *Manager, session string, clock func() time.Time) *Telemetry {
	if clock == nil {
		clock = time.Now
	}
	return &Telemetry{m: m, session: session, clock: clock}
}

func (t *Telemetry) GatherCompleted(playerID string, node *resource.Node) {
	t.write("gather_completed", map[string]string{
		"player": playerID,
		"rarity": node.Rarity.String(),
	}, map[string]interface{}{
		"node":   node.ID,
		"shards": node.Rarity.ShardValue(),
	})
}

func (t *Telemetry) ClaimRejected(playerID string, node *resource.Node, by string) {
	t.write("claim_rejected", map[string]string{
		"player": playerID,
		"rarity": node.Rarity.String(),
	}, map[string]interface{}{
		"node":    node.ID,
		"holder":  by,
		"refills": by == "",
	})
}

func (t *Telemetry) ClaimLost(playerID string, node *resource.Node, to string) {
	t.write("claim_lost", map[string]string{
		"player": playerID,
		"rarity": node.Rarity.String(),
	}, map[string]interface{}{
		"node":   node.ID,
		"winner": to,
	})
}

// RemotePlayers records how many other players the session currently sees.
func (t *Telemetry) RemotePlayers(playerID string, n int) {
	t.write("remote_players", map[string]string{"player": playerID}, map[string]interface{}{"count": n})
}

func (t *Telemetry) write(measurement string, tags map[string]string, fields map[string]interface{}) {
	tags["session"] = t.session
	point := influxdb2.NewPoint(measurement, tags, fields, t.clock())
	if err := t.m.WritePoint(point); err != nil {
		t.m.Logger.Debug().Err(err).Str("measurement", measurement).Msg("Dropping telemetry point")
	}
}
