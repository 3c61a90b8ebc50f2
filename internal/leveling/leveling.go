package leveling

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"astromech/internal/config"
	"astromech/internal/storage"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Result of one award attempt. Awarded is false when the cooldown swallowed
// the message.
type Result struct {
	Awarded   bool
	LeveledUp bool
	Level     int
	XP        int
}

// Module gates XP awards behind a per-user cooldown and serializes each
// user's read-modify-write so concurrent messages cannot lose updates. The
// cooldown map is process-local; losing it on restart only re-opens the
// rate limit.
type Module struct {
	store *storage.Store
	cfg   config.LevelingConfig
	clock Clock
	rng   func(min, max int) int

	mu        sync.Mutex
	cooldowns map[string]time.Time
	locks     map[string]*sync.Mutex
}

func New(store *storage.Store, cfg config.LevelingConfig) *Module {
	return &Module{
		store:     store,
		cfg:       cfg,
		clock:     realClock{},
		rng:       func(min, max int) int { return min + rand.Intn(max-min+1) },
		cooldowns: make(map[string]time.Time),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (m *Module) WithClock(clock Clock) {
	m.clock = clock
}

func (m *Module) WithRand(rng func(min, max int) int) {
	m.rng = rng
}

// AwardXP applies one message's XP to the user. Within the cooldown window
// it is a no-op and leaves the cooldown timestamp untouched.
func (m *Module) AwardXP(ctx context.Context, userID string) (Result, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := m.clock.Now()
	cooldown := time.Duration(m.cfg.CooldownSeconds) * time.Second

	m.mu.Lock()
	last, seen := m.cooldowns[userID]
	m.mu.Unlock()
	if seen && now.Sub(last) < cooldown {
		return Result{}, nil
	}

	delta := m.rng(m.cfg.XPMin, m.cfg.XPMax)
	record, leveledUp, err := m.store.AwardXP(ctx, userID, delta)
	if err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	m.cooldowns[userID] = now
	m.mu.Unlock()

	return Result{Awarded: true, LeveledUp: leveledUp, Level: record.Level, XP: record.XP}, nil
}

// Level returns the user's current level; ok is false for users that never
// earned XP.
func (m *Module) Level(ctx context.Context, userID string) (int, bool, error) {
	record, ok, err := m.store.GetUserLevel(ctx, userID)
	if err != nil || !ok {
		return 0, ok, err
	}
	return record.Level, true, nil
}

func (m *Module) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock := m.locks[userID]
	if lock == nil {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	return lock
}
