package database

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserExists indicates the name is already registered.
	ErrUserExists = errors.New("user already registered")
	// ErrUserNotFound indicates the name is not registered.
	ErrUserNotFound = errors.New("user not found")
	// ErrWrongPassword indicates the password does not match.
	ErrWrongPassword = errors.New("wrong password")
	// ErrSelfBlock indicates a user tried to block themselves.
	ErrSelfBlock = errors.New("cannot block yourself")
	// ErrAlreadyBlocked indicates the block already exists.
	ErrAlreadyBlocked = errors.New("user already blocked")
)

// Notification kinds, matching the wire values.
const (
	KindPM     uint8 = 0
	KindPublic uint8 = 1
)

// User is a registered account.
type User struct {
	ID           int64
	Name         string
	PasswordHash string
	Posts        int64
	CreatedAt    int64
}

// Notification is a message waiting for an offline recipient.
type Notification struct {
	Kind    uint8
	Sender  string
	Content string
}

// Stats are the counters reported by STAT.
type Stats struct {
	Posts     int64
	Followers int
	Following int
}

// MemDB is the in-memory social graph. With a backing DB it loads state on
// start and snapshots it periodically and on Close.
type MemDB struct {
	mu sync.RWMutex

	users  map[string]*User
	byID   map[int64]*User
	order  []*User
	nextID int64

	following map[int64]map[int64]int64 // follower -> target -> seq
	followers map[int64]map[int64]int64 // target -> follower -> seq
	followSeq int64
	blocks    map[int64]map[int64]bool // blocker -> blocked
	pending   map[int64][]Notification

	passwordCost int
	dirty        bool

	// Underlying SQLite DB for snapshots
	sqliteDB         *DB
	snapshotInterval time.Duration
	shutdown         chan struct{}
	closeOnce        sync.Once
	wg               sync.WaitGroup
	logger           *log.Logger
}

// NewMemDB creates the store. sqliteDB may be nil for a purely in-memory
// store; otherwise state is loaded from it and snapshotted every interval.
func NewMemDB(sqliteDB *DB, snapshotInterval time.Duration) (*MemDB, error) {
	m := &MemDB{
		users:            make(map[string]*User),
		byID:             make(map[int64]*User),
		following:        make(map[int64]map[int64]int64),
		followers:        make(map[int64]map[int64]int64),
		blocks:           make(map[int64]map[int64]bool),
		pending:          make(map[int64][]Notification),
		passwordCost:     bcrypt.DefaultCost,
		sqliteDB:         sqliteDB,
		snapshotInterval: snapshotInterval,
		shutdown:         make(chan struct{}),
		logger:           log.New(io.Discard, "", 0),
	}

	if sqliteDB == nil {
		return m, nil
	}

	if err := m.loadFromSQLite(); err != nil {
		return nil, fmt.Errorf("failed to load from SQLite: %w", err)
	}

	if snapshotInterval > 0 {
		m.wg.Add(1)
		go m.snapshotLoop()
	}
	return m, nil
}

// SetLogger sets the logger for snapshot activity.
func (m *MemDB) SetLogger(logger *log.Logger) {
	m.logger = logger
}

// SetPasswordCost sets the bcrypt cost for new registrations.
func (m *MemDB) SetPasswordCost(cost int) {
	m.passwordCost = cost
}

func (m *MemDB) loadFromSQLite() error {
	start := time.Now()
	snap, err := m.sqliteDB.Load()
	if err != nil {
		return err
	}

	for _, u := range snap.Users {
		m.users[u.Name] = u
		m.byID[u.ID] = u
		m.order = append(m.order, u)
		if u.ID > m.nextID {
			m.nextID = u.ID
		}
	}
	for _, e := range snap.Follows {
		m.link(e.Follower, e.Target, e.Seq)
		if e.Seq > m.followSeq {
			m.followSeq = e.Seq
		}
	}
	for _, e := range snap.Blocks {
		set(m.blocks, e.Blocker)[e.Blocked] = true
	}
	for _, p := range snap.Pending {
		m.pending[p.Recipient] = append(m.pending[p.Recipient], p.Notification)
	}

	m.logger.Printf("MemDB: loaded %d users, %d follows, %d blocks in %v",
		len(snap.Users), len(snap.Follows), len(snap.Blocks), time.Since(start))
	return nil
}

func (m *MemDB) snapshotLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Snapshot(); err != nil {
				m.logger.Printf("MemDB: snapshot failed: %v", err)
			}
		case <-m.shutdown:
			if err := m.Snapshot(); err != nil {
				m.logger.Printf("MemDB: final snapshot failed: %v", err)
			}
			return
		}
	}
}

// Snapshot writes current state to SQLite if anything changed.
func (m *MemDB) Snapshot() error {
	if m.sqliteDB == nil {
		return nil
	}

	m.mu.Lock()
	if !m.dirty {
		m.mu.Unlock()
		return nil
	}
	snap := m.exportLocked()
	m.dirty = false
	m.mu.Unlock()

	start := time.Now()
	if err := m.sqliteDB.Save(snap); err != nil {
		m.mu.Lock()
		m.dirty = true
		m.mu.Unlock()
		return err
	}
	m.logger.Printf("MemDB: snapshot of %d users written in %v", len(snap.Users), time.Since(start))
	return nil
}

func (m *MemDB) exportLocked() *Snapshot {
	snap := &Snapshot{}
	for _, u := range m.order {
		cp := *u
		snap.Users = append(snap.Users, &cp)
	}
	for follower, targets := range m.following {
		for target, seq := range targets {
			snap.Follows = append(snap.Follows, FollowEdge{Follower: follower, Target: target, Seq: seq})
		}
	}
	sort.Slice(snap.Follows, func(i, j int) bool { return snap.Follows[i].Seq < snap.Follows[j].Seq })
	for blocker, blocked := range m.blocks {
		for id := range blocked {
			snap.Blocks = append(snap.Blocks, BlockEdge{Blocker: blocker, Blocked: id})
		}
	}
	for _, u := range m.order {
		for _, n := range m.pending[u.ID] {
			snap.Pending = append(snap.Pending, PendingRow{Recipient: u.ID, Notification: n})
		}
	}
	return snap
}

// Close writes a final snapshot and stops the snapshot loop.
func (m *MemDB) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.shutdown)
		m.wg.Wait()
		if m.snapshotInterval <= 0 {
			err = m.Snapshot()
		}
	})
	return err
}

// === User Operations ===

// Register adds a user with a bcrypt-hashed password.
func (m *MemDB) Register(name, password string) error {
	m.mu.RLock()
	_, exists := m.users[name]
	m.mu.RUnlock()
	if exists {
		return ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.passwordCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Raced with another registration of the same name.
	if _, exists := m.users[name]; exists {
		return ErrUserExists
	}
	m.nextID++
	u := &User{
		ID:           m.nextID,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UnixMilli(),
	}
	m.users[name] = u
	m.byID[u.ID] = u
	m.order = append(m.order, u)
	m.dirty = true
	return nil
}

// Authenticate checks name and password.
func (m *MemDB) Authenticate(name, password string) error {
	m.mu.RLock()
	u, ok := m.users[name]
	var hash string
	if ok {
		hash = u.PasswordHash
	}
	m.mu.RUnlock()

	if !ok {
		return ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrWrongPassword
	}
	return nil
}

// Exists reports whether name is registered.
func (m *MemDB) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[name]
	return ok
}

// ListUsers returns registered names in registration order, leaving out
// users who have blocked requester.
func (m *MemDB) ListUsers(requester string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req := m.users[requester]
	names := make([]string, 0, len(m.order))
	for _, u := range m.order {
		if req != nil && m.blocks[u.ID][req.ID] {
			continue
		}
		names = append(names, u.Name)
	}
	return names
}

// UserCount returns the number of registered users.
func (m *MemDB) UserCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Stats returns post, follower and following counts for name.
func (m *MemDB) Stats(name string) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[name]
	if !ok {
		return Stats{}, ErrUserNotFound
	}
	return Stats{
		Posts:     u.Posts,
		Followers: len(m.followers[u.ID]),
		Following: len(m.following[u.ID]),
	}, nil
}

// === Follow Operations ===

// Follow makes follower follow target. It fails when target is unknown,
// already followed, or has blocked follower.
func (m *MemDB) Follow(follower, target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, t := m.users[follower], m.users[target]
	if f == nil || t == nil {
		return false
	}
	if _, ok := m.following[f.ID][t.ID]; ok {
		return false
	}
	if m.blocks[t.ID][f.ID] {
		return false
	}
	m.followSeq++
	m.link(f.ID, t.ID, m.followSeq)
	m.dirty = true
	return true
}

// Unfollow removes the link. It fails when follower was not following target.
func (m *MemDB) Unfollow(follower, target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, t := m.users[follower], m.users[target]
	if f == nil || t == nil {
		return false
	}
	if _, ok := m.following[f.ID][t.ID]; !ok {
		return false
	}
	m.unlink(f.ID, t.ID)
	m.dirty = true
	return true
}

// Followers returns the names following target, oldest first.
func (m *MemDB) Followers(target string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.users[target]
	if t == nil {
		return nil
	}
	type entry struct {
		name string
		seq  int64
	}
	entries := make([]entry, 0, len(m.followers[t.ID]))
	for id, seq := range m.followers[t.ID] {
		entries = append(entries, entry{m.byID[id].Name, seq})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

func (m *MemDB) link(follower, target, seq int64) {
	set64(m.following, follower)[target] = seq
	set64(m.followers, target)[follower] = seq
}

func (m *MemDB) unlink(follower, target int64) {
	delete(m.following[follower], target)
	delete(m.followers[target], follower)
}

// === Block Operations ===

// Block records that blocker blocks target and removes follow links in
// both directions.
func (m *MemDB) Block(blocker, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, t := m.users[blocker], m.users[target]
	if b == nil || t == nil {
		return ErrUserNotFound
	}
	if b.ID == t.ID {
		return ErrSelfBlock
	}
	if m.blocks[b.ID][t.ID] {
		return ErrAlreadyBlocked
	}
	set(m.blocks, b.ID)[t.ID] = true
	m.unlink(b.ID, t.ID)
	m.unlink(t.ID, b.ID)
	m.dirty = true
	return nil
}

// IsBlocked reports whether blocker has blocked target.
func (m *MemDB) IsBlocked(blocker, target string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, t := m.users[blocker], m.users[target]
	if b == nil || t == nil {
		return false
	}
	return m.blocks[b.ID][t.ID]
}

// === Posts and Notifications ===

// RecordPost counts a public post by name.
func (m *MemDB) RecordPost(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[name]; ok {
		u.Posts++
		m.dirty = true
	}
}

// Enqueue stores n for an offline recipient.
func (m *MemDB) Enqueue(recipient string, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[recipient]
	if !ok {
		return ErrUserNotFound
	}
	m.pending[u.ID] = append(m.pending[u.ID], n)
	m.dirty = true
	return nil
}

// DrainPending removes and returns the queued notifications for name in
// arrival order.
func (m *MemDB) DrainPending(name string) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[name]
	if !ok {
		return nil
	}
	queued := m.pending[u.ID]
	if len(queued) > 0 {
		delete(m.pending, u.ID)
		m.dirty = true
	}
	return queued
}

func set(m map[int64]map[int64]bool, key int64) map[int64]bool {
	s, ok := m[key]
	if !ok {
		s = make(map[int64]bool)
		m[key] = s
	}
	return s
}

func set64(m map[int64]map[int64]int64, key int64) map[int64]int64 {
	s, ok := m[key]
	if !ok {
		s = make(map[int64]int64)
		m[key] = s
	}
	return s
}
