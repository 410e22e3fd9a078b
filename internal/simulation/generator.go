// Package simulation drives synthetic traffic through the engine.
package simulation

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"parking-allocator/internal/logging"
	"parking-allocator/internal/parking"
)

type Engine interface {
	Park(ctx context.Context, caller parking.Caller, req parking.AllocationRequest) (parking.Session, error)
	Exit(ctx context.Context, caller parking.Caller, sessionID string) (parking.Session, error)
	ListOpen(ctx context.Context, lotID string) []parking.Session
	Status(ctx context.Context, lotID string) (parking.LotStatus, error)
}

// Caller is the identity simulated traffic runs as. It is privileged so the
// one-open-session rule does not throttle it.
var Caller = parking.Caller{UserID: "1", Role: parking.RoleAdmin}

const (
	minBatch    = 5
	maxBatch    = 10
	exitPercent = 5
)

type Stats struct {
	Parked   int64
	Exited   int64
	Rejected int64
	Failed   int64
}

type Generator struct {
	engine  Engine
	lotID   string
	limiter *rate.Limiter
	rnd     *rand.Rand

	parked   atomic.Int64
	exited   atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
}

// NewGenerator paces one batch per interval. A nil rnd uses a time seed.
func NewGenerator(engine Engine, lotID string, interval time.Duration, rnd *rand.Rand) *Generator {
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &Generator{
		engine:  engine,
		lotID:   lotID,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		rnd:     rnd,
	}
}

// Run issues batches until ctx is done.
func (g *Generator) Run(ctx context.Context) {
	logging.Info(ctx, "simulation started", slog.String("lot_id", g.lotID))
	for {
		if err := g.limiter.Wait(ctx); err != nil {
			break
		}
		g.Batch(ctx)
	}
	s := g.Stats()
	logging.Info(context.Background(), "simulation stopped",
		slog.String("lot_id", g.lotID),
		slog.Int64("parked", s.Parked),
		slog.Int64("exited", s.Exited),
		slog.Int64("rejected", s.Rejected),
		slog.Int64("failed", s.Failed))
}

// Batch issues between 5 and 10 events.
func (g *Generator) Batch(ctx context.Context) {
	n := minBatch + g.rnd.IntN(maxBatch-minBatch+1)
	for range n {
		if ctx.Err() != nil {
			return
		}
		if g.rnd.IntN(100) < exitPercent {
			g.exitRandom(ctx)
		} else {
			g.parkRandom(ctx)
		}
	}
}

func (g *Generator) parkRandom(ctx context.Context) {
	status, err := g.engine.Status(ctx, g.lotID)
	if err != nil || len(status.Slots) == 0 {
		g.failed.Add(1)
		return
	}
	slot := status.Slots[g.rnd.IntN(len(status.Slots))]
	vt := parking.VehicleTypes()[g.rnd.IntN(len(parking.VehicleTypes()))]

	_, err = g.engine.Park(ctx, Caller, parking.AllocationRequest{
		LotID:       g.lotID,
		SlotNumber:  slot.ID.Number,
		Plate:       g.plate(),
		VehicleType: vt,
		VehicleMake: g.vehicleMake(vt),
	})
	g.count(err, &g.parked)
}

func (g *Generator) exitRandom(ctx context.Context) {
	open := g.engine.ListOpen(ctx, g.lotID)
	if len(open) == 0 {
		g.rejected.Add(1)
		return
	}
	_, err := g.engine.Exit(ctx, Caller, open[g.rnd.IntN(len(open))].ID)
	g.count(err, &g.exited)
}

func (g *Generator) count(err error, success *atomic.Int64) {
	switch {
	case err == nil:
		success.Add(1)
	case errors.Is(err, parking.ErrAllocationFailed), errors.Is(err, context.Canceled):
		g.failed.Add(1)
	default:
		// lot full, incompatible slot, lost races: expected under load
		g.rejected.Add(1)
	}
}

// plate returns a random "ABC1234" style registration.
func (g *Generator) plate() string {
	b := make([]byte, 7)
	for i := range 3 {
		b[i] = byte('A' + g.rnd.IntN(26))
	}
	for i := 3; i < 7; i++ {
		b[i] = byte('0' + g.rnd.IntN(10))
	}
	return string(b)
}

var motorcycleMakes = []parking.VehicleMake{
	parking.MakeHarleyDavidson, parking.MakeYamaha, parking.MakeKawasaki, parking.MakeSuzuki, parking.MakeDucati,
}

var carMakes = []parking.VehicleMake{
	parking.MakeFord, parking.MakeChevrolet, parking.MakeGMC, parking.MakeTesla, parking.MakeJeep,
	parking.MakeMercedes, parking.MakeBMW, parking.MakeAudi, parking.MakeVolkswagen, parking.MakeVolvo,
	parking.MakeToyota, parking.MakeHonda, parking.MakeNissan, parking.MakeHyundai, parking.MakeKia,
	parking.MakeMazda, parking.MakeSubaru,
}

func (g *Generator) vehicleMake(vt parking.VehicleType) parking.VehicleMake {
	if vt == parking.VehicleMotorcycle {
		return motorcycleMakes[g.rnd.IntN(len(motorcycleMakes))]
	}
	return carMakes[g.rnd.IntN(len(carMakes))]
}

func (g *Generator) Stats() Stats {
	return Stats{
		Parked:   g.parked.Load(),
		Exited:   g.exited.Load(),
		Rejected: g.rejected.Load(),
		Failed:   g.failed.Load(),
	}
}
