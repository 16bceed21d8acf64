package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sportsblock/sportsblock/internal/app/domain/custodian"
	"github.com/sportsblock/sportsblock/internal/app/domain/leaderboard"
	"github.com/sportsblock/sportsblock/internal/app/domain/notification"
	"github.com/sportsblock/sportsblock/internal/app/domain/post"
	"github.com/sportsblock/sportsblock/internal/app/domain/prediction"
	"github.com/sportsblock/sportsblock/internal/app/domain/pricefeed"
	"github.com/sportsblock/sportsblock/internal/app/domain/user"
	"github.com/sportsblock/sportsblock/internal/app/storage"
)

// Store is an in-memory implementation of every storage interface. It is
// safe for concurrent use and intended for tests and local development.
type Store struct {
	mu                 sync.RWMutex
	nextID             int64
	users              map[string]user.User
	usersByName        map[string]string
	custodialAccounts  map[string]custodian.Account
	custodialByHive    map[string]string
	predictions        map[string]prediction.Prediction
	stakes             map[string]prediction.Stake
	stakesByPrediction map[string][]string
	leaderboardEntries map[string]leaderboard.Entry
	priceFeeds         map[string]pricefeed.Feed
	priceSnapshots     map[string][]pricefeed.Snapshot
	softPosts          map[string]post.SoftPost
	notifications      map[string][]notification.Notification
	notificationsByID  map[string]notification.Notification
	cursors            map[string]uint64
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.CustodianStore = (*Store)(nil)
var _ storage.PredictionStore = (*Store)(nil)
var _ storage.LeaderboardStore = (*Store)(nil)
var _ storage.PriceFeedStore = (*Store)(nil)
var _ storage.PostStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)
var _ storage.CursorStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:             1,
		users:              make(map[string]user.User),
		usersByName:        make(map[string]string),
		custodialAccounts:  make(map[string]custodian.Account),
		custodialByHive:    make(map[string]string),
		predictions:        make(map[string]prediction.Prediction),
		stakes:             make(map[string]prediction.Stake),
		stakesByPrediction: make(map[string][]string),
		leaderboardEntries: make(map[string]leaderboard.Entry),
		priceFeeds:         make(map[string]pricefeed.Feed),
		priceSnapshots:     make(map[string][]pricefeed.Snapshot),
		softPosts:          make(map[string]post.SoftPost),
		notifications:      make(map[string][]notification.Notification),
		notificationsByID:  make(map[string]notification.Notification),
		cursors:            make(map[string]uint64),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(u.Username)
	if _, exists := s.usersByName[key]; exists {
		return user.User{}, storage.ErrConflict
	}
	if u.ID == "" {
		u.ID = s.nextIDLocked()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, storage.ErrConflict
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	s.usersByName[key] = u.ID
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}

	u.Username = original.Username
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByName[strings.ToLower(username)]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// CustodianStore implementation -----------------------------------------------

func (s *Store) CreateCustodialAccount(_ context.Context, acct custodian.Account) (custodian.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(acct.HiveAccount)
	if _, exists := s.custodialByHive[key]; exists {
		return custodian.Account{}, storage.ErrConflict
	}
	if acct.ID == "" {
		acct.ID = s.nextIDLocked()
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	acct.EncryptedPostingKey = cloneBytes(acct.EncryptedPostingKey)
	acct.EncryptedActiveKey = cloneBytes(acct.EncryptedActiveKey)

	s.custodialAccounts[acct.ID] = acct
	s.custodialByHive[key] = acct.ID
	return cloneCustodial(acct), nil
}

func (s *Store) UpdateCustodialAccount(_ context.Context, acct custodian.Account) (custodian.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.custodialAccounts[acct.ID]
	if !ok {
		return custodian.Account{}, storage.ErrNotFound
	}

	acct.UserID = original.UserID
	acct.HiveAccount = original.HiveAccount
	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()
	acct.EncryptedPostingKey = cloneBytes(acct.EncryptedPostingKey)
	acct.EncryptedActiveKey = cloneBytes(acct.EncryptedActiveKey)

	s.custodialAccounts[acct.ID] = acct
	return cloneCustodial(acct), nil
}

func (s *Store) GetCustodialAccount(_ context.Context, id string) (custodian.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.custodialAccounts[id]
	if !ok {
		return custodian.Account{}, storage.ErrNotFound
	}
	return cloneCustodial(acct), nil
}

func (s *Store) GetCustodialAccountByHive(_ context.Context, hiveAccount string) (custodian.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.custodialByHive[strings.ToLower(hiveAccount)]
	if !ok {
		return custodian.Account{}, storage.ErrNotFound
	}
	return cloneCustodial(s.custodialAccounts[id]), nil
}

func (s *Store) ListCustodialAccounts(_ context.Context) ([]custodian.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]custodian.Account, 0, len(s.custodialAccounts))
	for _, acct := range s.custodialAccounts {
		result = append(result, cloneCustodial(acct))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// PredictionStore implementation ----------------------------------------------

func (s *Store) CreatePrediction(_ context.Context, p prediction.Prediction) (prediction.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.predictions[p.ID]; exists {
		return prediction.Prediction{}, storage.ErrConflict
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Outcomes = cloneOutcomes(p.Outcomes)

	s.predictions[p.ID] = p
	return clonePrediction(p), nil
}

func (s *Store) UpdatePrediction(_ context.Context, p prediction.Prediction) (prediction.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.predictions[p.ID]
	if !ok {
		return prediction.Prediction{}, storage.ErrNotFound
	}

	p.Author = original.Author
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	p.Outcomes = cloneOutcomes(p.Outcomes)

	s.predictions[p.ID] = p
	return clonePrediction(p), nil
}

func (s *Store) GetPrediction(_ context.Context, id string) (prediction.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.predictions[id]
	if !ok {
		return prediction.Prediction{}, storage.ErrNotFound
	}
	return clonePrediction(p), nil
}

func (s *Store) ListPredictions(_ context.Context, status prediction.Status, author string) ([]prediction.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []prediction.Prediction
	for _, p := range s.predictions {
		if status != "" && p.Status != status {
			continue
		}
		if author != "" && !strings.EqualFold(p.Author, author) {
			continue
		}
		result = append(result, clonePrediction(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListLockable(_ context.Context, before time.Time) ([]prediction.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []prediction.Prediction
	for _, p := range s.predictions {
		if p.Status == prediction.StatusOpen && !p.LocksAt.After(before) {
			result = append(result, clonePrediction(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LocksAt.Before(result[j].LocksAt) })
	return result, nil
}

func (s *Store) CreateStake(_ context.Context, st prediction.Stake) (prediction.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.stakesByPrediction[st.PredictionID] {
		if strings.EqualFold(s.stakes[id].Account, st.Account) {
			return prediction.Stake{}, storage.ErrConflict
		}
	}
	if st.ID == "" {
		st.ID = s.nextIDLocked()
	}

	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now

	s.stakes[st.ID] = st
	s.stakesByPrediction[st.PredictionID] = append(s.stakesByPrediction[st.PredictionID], st.ID)
	return st, nil
}

func (s *Store) UpdateStake(_ context.Context, st prediction.Stake) (prediction.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.stakes[st.ID]
	if !ok {
		return prediction.Stake{}, storage.ErrNotFound
	}

	st.PredictionID = original.PredictionID
	st.Account = original.Account
	st.CreatedAt = original.CreatedAt
	st.UpdatedAt = time.Now().UTC()

	s.stakes[st.ID] = st
	return st, nil
}

func (s *Store) TransitionStake(_ context.Context, id string, from, to prediction.StakeStatus) (prediction.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stakes[id]
	if !ok {
		return prediction.Stake{}, storage.ErrNotFound
	}
	if st.Status != from {
		return prediction.Stake{}, storage.ErrConflict
	}

	st.Status = to
	st.UpdatedAt = time.Now().UTC()
	s.stakes[id] = st
	return st, nil
}

func (s *Store) GetStake(_ context.Context, id string) (prediction.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stakes[id]
	if !ok {
		return prediction.Stake{}, storage.ErrNotFound
	}
	return st, nil
}

func (s *Store) GetStakeByAccount(_ context.Context, predictionID, account string) (prediction.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.stakesByPrediction[predictionID] {
		if strings.EqualFold(s.stakes[id].Account, account) {
			return s.stakes[id], nil
		}
	}
	return prediction.Stake{}, storage.ErrNotFound
}

func (s *Store) ListStakes(_ context.Context, predictionID string) ([]prediction.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.stakesByPrediction[predictionID]
	result := make([]prediction.Stake, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.stakes[id])
	}
	return result, nil
}

func (s *Store) ListPendingStakes(_ context.Context) ([]prediction.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []prediction.Stake
	for _, st := range s.stakes {
		if st.Status == prediction.StakePending {
			result = append(result, st)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// LeaderboardStore implementation ---------------------------------------------

func (s *Store) UpsertLeaderboardEntry(_ context.Context, e leaderboard.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.UpdatedAt = time.Now().UTC()
	s.leaderboardEntries[strings.ToLower(e.Account)] = e
	return nil
}

func (s *Store) TopLeaderboard(_ context.Context, limit int) ([]leaderboard.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]leaderboard.Entry, 0, len(s.leaderboardEntries))
	for _, e := range s.leaderboardEntries {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].NetPayout > result[j].NetPayout })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetLeaderboardEntry(_ context.Context, account string) (leaderboard.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.leaderboardEntries[strings.ToLower(account)]
	if !ok {
		return leaderboard.Entry{}, storage.ErrNotFound
	}
	return e, nil
}

// PriceFeedStore implementation -----------------------------------------------

func (s *Store) CreatePriceFeed(_ context.Context, feed pricefeed.Feed) (pricefeed.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.priceFeeds {
		if strings.EqualFold(existing.Pair, feed.Pair) {
			return pricefeed.Feed{}, storage.ErrConflict
		}
	}
	if feed.ID == "" {
		feed.ID = s.nextIDLocked()
	}

	now := time.Now().UTC()
	feed.CreatedAt = now
	feed.UpdatedAt = now
	s.priceFeeds[feed.ID] = feed
	return feed, nil
}

func (s *Store) UpdatePriceFeed(_ context.Context, feed pricefeed.Feed) (pricefeed.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.priceFeeds[feed.ID]
	if !ok {
		return pricefeed.Feed{}, storage.ErrNotFound
	}

	feed.Pair = original.Pair
	feed.BaseAsset = original.BaseAsset
	feed.QuoteAsset = original.QuoteAsset
	feed.CreatedAt = original.CreatedAt
	feed.UpdatedAt = time.Now().UTC()
	s.priceFeeds[feed.ID] = feed
	return feed, nil
}

func (s *Store) GetPriceFeed(_ context.Context, id string) (pricefeed.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	feed, ok := s.priceFeeds[id]
	if !ok {
		return pricefeed.Feed{}, storage.ErrNotFound
	}
	return feed, nil
}

func (s *Store) ListPriceFeeds(_ context.Context) ([]pricefeed.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]pricefeed.Feed, 0, len(s.priceFeeds))
	for _, feed := range s.priceFeeds {
		result = append(result, feed)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Pair < result[j].Pair })
	return result, nil
}

func (s *Store) CreatePriceSnapshot(_ context.Context, snap pricefeed.Snapshot) (pricefeed.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.priceFeeds[snap.FeedID]; !ok {
		return pricefeed.Snapshot{}, storage.ErrNotFound
	}
	if snap.ID == "" {
		snap.ID = s.nextIDLocked()
	}
	snap.CreatedAt = time.Now().UTC()
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = snap.CreatedAt
	}
	s.priceSnapshots[snap.FeedID] = append(s.priceSnapshots[snap.FeedID], snap)
	return snap, nil
}

func (s *Store) LatestPriceSnapshot(_ context.Context, feedID string) (pricefeed.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.priceSnapshots[feedID]
	if len(snaps) == 0 {
		return pricefeed.Snapshot{}, storage.ErrNotFound
	}
	return snaps[len(snaps)-1], nil
}

func (s *Store) ListPriceSnapshots(_ context.Context, feedID string, limit int) ([]pricefeed.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.priceSnapshots[feedID]
	result := make([]pricefeed.Snapshot, len(snaps))
	copy(result, snaps)
	sort.Slice(result, func(i, j int) bool { return result[i].CollectedAt.After(result[j].CollectedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// PostStore implementation ------------------------------------------------------

func (s *Store) CreateSoftPost(_ context.Context, p post.SoftPost) (post.SoftPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.softPosts[p.ID]; exists {
		return post.SoftPost{}, storage.ErrConflict
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Tags = cloneStrings(p.Tags)
	s.softPosts[p.ID] = p
	return p, nil
}

func (s *Store) UpdateSoftPost(_ context.Context, p post.SoftPost) (post.SoftPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.softPosts[p.ID]
	if !ok {
		return post.SoftPost{}, storage.ErrNotFound
	}

	p.Author = original.Author
	p.Permlink = original.Permlink
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	p.Tags = cloneStrings(p.Tags)
	s.softPosts[p.ID] = p
	return p, nil
}

func (s *Store) GetSoftPost(_ context.Context, id string) (post.SoftPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.softPosts[id]
	if !ok || p.Deleted {
		return post.SoftPost{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListSoftPosts(_ context.Context, author string, limit int) ([]post.SoftPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []post.SoftPost
	for _, p := range s.softPosts {
		if p.Deleted {
			continue
		}
		if author != "" && !strings.EqualFold(p.Author, author) {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) DeleteSoftPost(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.softPosts[id]
	if !ok || p.Deleted {
		return storage.ErrNotFound
	}
	p.Deleted = true
	p.UpdatedAt = time.Now().UTC()
	s.softPosts[id] = p
	return nil
}

// NotificationStore implementation ----------------------------------------------

func (s *Store) CreateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = s.nextIDLocked()
	}
	n.CreatedAt = time.Now().UTC()

	key := strings.ToLower(n.Account)
	s.notifications[key] = append(s.notifications[key], n)
	s.notificationsByID[n.ID] = n
	return n, nil
}

func (s *Store) ListNotifications(_ context.Context, account string, unreadOnly bool, limit int) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []notification.Notification
	for _, n := range s.notifications[strings.ToLower(account)] {
		if unreadOnly && n.Read {
			continue
		}
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) MarkNotificationsRead(_ context.Context, account string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	key := strings.ToLower(account)
	updated := 0
	list := s.notifications[key]
	for i, n := range list {
		if n.Read {
			continue
		}
		if len(ids) > 0 && !wanted[n.ID] {
			continue
		}
		list[i].Read = true
		s.notificationsByID[n.ID] = list[i]
		updated++
	}
	return updated, nil
}

func (s *Store) PruneNotifications(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for key, list := range s.notifications {
		kept := list[:0]
		for _, n := range list {
			if n.CreatedAt.Before(olderThan) {
				delete(s.notificationsByID, n.ID)
				pruned++
				continue
			}
			kept = append(kept, n)
		}
		s.notifications[key] = kept
	}
	return pruned, nil
}

// CursorStore implementation ----------------------------------------------------

func (s *Store) LoadCursor(_ context.Context, name string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[name], nil
}

func (s *Store) SaveCursor(_ context.Context, name string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = block
	return nil
}

// helpers ------------------------------------------------------------------------

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneOutcomes(in []prediction.Outcome) []prediction.Outcome {
	if in == nil {
		return nil
	}
	out := make([]prediction.Outcome, len(in))
	copy(out, in)
	return out
}

func clonePrediction(p prediction.Prediction) prediction.Prediction {
	p.Outcomes = cloneOutcomes(p.Outcomes)
	return p
}

func cloneCustodial(acct custodian.Account) custodian.Account {
	acct.EncryptedPostingKey = cloneBytes(acct.EncryptedPostingKey)
	acct.EncryptedActiveKey = cloneBytes(acct.EncryptedActiveKey)
	return acct
}
