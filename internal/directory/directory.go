package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

var ErrUserNotFound = errors.New("directory: user not found")

// Profile is the public summary of a user shown to call peers.
type Profile struct {
	ID         string `json:"id"`
	FullName   string `json:"fullName"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// PostgresDirectory reads the users and user_friends tables. Both are owned
// by the account service; this package never writes to them.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const queryIsFriend = `
SELECT EXISTS (
	SELECT 1 FROM user_friends
	WHERE (user_id = $1 AND friend_id = $2)
	   OR (user_id = $2 AND friend_id = $1)
)`

const queryProfile = `
SELECT id, full_name, COALESCE(profile_pic, '')
FROM users
WHERE id = $1`

func (d *PostgresDirectory) IsFriend(ctx context.Context, a, b string) (bool, error) {
	var ok bool
	if err := d.db.QueryRowContext(ctx, queryIsFriend, a, b).Scan(&ok); err != nil {
		return false, fmt.Errorf("directory: friendship lookup: %w", err)
	}
	return ok, nil
}

func (d *PostgresDirectory) Profile(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := d.db.QueryRowContext(ctx, queryProfile, userID).Scan(&p.ID, &p.FullName, &p.ProfilePic)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrUserNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("directory: profile lookup: %w", err)
	}
	return p, nil
}

// MemoryDirectory is an in-memory directory for tests and local runs.
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	friends  map[[2]string]struct{}
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		profiles: make(map[string]Profile),
		friends:  make(map[[2]string]struct{}),
	}
}

func (d *MemoryDirectory) AddUser(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
}

// Befriend records a symmetric friendship.
func (d *MemoryDirectory) Befriend(a, b string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.friends[pairKey(a, b)] = struct{}{}
}

func (d *MemoryDirectory) IsFriend(_ context.Context, a, b string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.friends[pairKey(a, b)]
	return ok, nil
}

func (d *MemoryDirectory) Profile(_ context.Context, userID string) (Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[userID]
	if !ok {
		return Profile{}, ErrUserNotFound
	}
	return p, nil
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}
