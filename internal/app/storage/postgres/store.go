package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/sportsblock/sportsblock/internal/app/domain/custodian"
	"github.com/sportsblock/sportsblock/internal/app/domain/leaderboard"
	"github.com/sportsblock/sportsblock/internal/app/domain/notification"
	"github.com/sportsblock/sportsblock/internal/app/domain/post"
	"github.com/sportsblock/sportsblock/internal/app/domain/prediction"
	"github.com/sportsblock/sportsblock/internal/app/domain/pricefeed"
	"github.com/sportsblock/sportsblock/internal/app/domain/user"
	"github.com/sportsblock/sportsblock/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.CustodianStore = (*Store)(nil)
var _ storage.PredictionStore = (*Store)(nil)
var _ storage.LeaderboardStore = (*Store)(nil)
var _ storage.PriceFeedStore = (*Store)(nil)
var _ storage.PostStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)
var _ storage.CursorStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// translateErr maps driver errors onto the storage sentinels so callers never
// depend on lib/pq directly.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return storage.ErrConflict
	}
	return err
}

// --- UserStore ----------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sb_users (id, username, hive_account, display_name, about, avatar_url, custodial, role, password_hash, created_at, updated_at)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, u.ID, u.Username, u.HiveAccount, u.DisplayName, u.About, u.AvatarURL, u.Custodial, u.Role, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, translateErr(err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}

	u.Username = existing.Username
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE sb_users
		SET hive_account = $2, display_name = $3, about = $4, avatar_url = $5, custodial = $6, role = $7, password_hash = $8, updated_at = $9
		WHERE id = $1
	`, u.ID, u.HiveAccount, u.DisplayName, u.About, u.AvatarURL, u.Custodial, u.Role, u.PasswordHash, u.UpdatedAt)
	if err != nil {
		return user.User{}, translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, hive_account, display_name, about, avatar_url, custodial, role, password_hash, created_at, updated_at
		FROM sb_users
		WHERE id = $1
	`, id))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, hive_account, display_name, about, avatar_url, custodial, role, password_hash, created_at, updated_at
		FROM sb_users
		WHERE username = LOWER($1)
	`, username))
}

func (s *Store) scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.Username, &u.HiveAccount, &u.DisplayName, &u.About, &u.AvatarURL, &u.Custodial, &u.Role, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return user.User{}, translateErr(err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, hive_account, display_name, about, avatar_url, custodial, role, password_hash, created_at, updated_at
		FROM sb_users
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []user.User
	for rows.Next() {
		var u user.User
		if err := rows.Scan(&u.ID, &u.Username, &u.HiveAccount, &u.DisplayName, &u.About, &u.AvatarURL, &u.Custodial, &u.Role, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

// --- CustodianStore -------------------------------------------------------------

func (s *Store) CreateCustodialAccount(ctx context.Context, acct custodian.Account) (custodian.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sb_custodial_accounts (id, user_id, hive_account, public_key, encrypted_posting_key, encrypted_active_key, created_at, updated_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $8)
	`, acct.ID, acct.UserID, acct.HiveAccount, acct.PublicKey, acct.EncryptedPostingKey, acct.EncryptedActiveKey, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return custodian.Account{}, translateErr(err)
	}
	return acct, nil
}

func (s *Store) UpdateCustodialAccount(ctx context.Context, acct custodian.Account) (custodian.Account, error) {
	existing, err := s.GetCustodialAccount(ctx, acct.ID)
	if err != nil {
		return custodian.Account{}, err
	}

	acct.UserID = existing.UserID
	acct.HiveAccount = existing.HiveAccount
	acct.CreatedAt = existing.CreatedAt
	acct.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE sb_custodial_accounts
		SET public_key = $2, encrypted_posting_key = $3, encrypted_active_key = $4, updated_at = $5
		WHERE id = $1
	`, acct.ID, acct.PublicKey, acct.EncryptedPostingKey, acct.EncryptedActiveKey, acct.UpdatedAt)
	if err != nil {
		return custodian.Account{}, translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return custodian.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

func (s *Store) GetCustodialAccount(ctx context.Context, id string) (custodian.Account, error) {
	return s.scanCustodial(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, hive_account, public_key, encrypted_posting_key, encrypted_active_key, created_at, updated_at
		FROM sb_custodial_accounts
		WHERE id = $1
	`, id))
}

func (s *Store) GetCustodialAccountByHive(ctx context.Context, hiveAccount string) (custodian.Account, error) {
	return s.scanCustodial(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, hive_account, public_key, encrypted_posting_key, encrypted_active_key, created_at, updated_at
		FROM sb_custodial_accounts
		WHERE hive_account = LOWER($1)
	`, hiveAccount))
}

func (s *Store) ListCustodialAccounts(ctx context.Context) ([]custodian.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, hive_account, public_key, encrypted_posting_key, encrypted_active_key, created_at, updated_at
		FROM sb_custodial_accounts
		ORDER BY created_at
	`)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var accounts []custodian.Account
	for rows.Next() {
		var acct custodian.Account
		if err := rows.Scan(&acct.ID, &acct.UserID, &acct.HiveAccount, &acct.PublicKey, &acct.EncryptedPostingKey, &acct.EncryptedActiveKey, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, translateErr(err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func (s *Store) scanCustodial(row *sql.Row) (custodian.Account, error) {
	var acct custodian.Account
	if err := row.Scan(&acct.ID, &acct.UserID, &acct.HiveAccount, &acct.PublicKey, &acct.EncryptedPostingKey, &acct.EncryptedActiveKey, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return custodian.Account{}, translateErr(err)
	}
	return acct, nil
}

// --- PredictionStore -------------------------------------------------------------

func (s *Store) CreatePrediction(ctx context.Context, p prediction.Prediction) (prediction.Prediction, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	outcomesJSON, err := json.Marshal(p.Outcomes)
	if err != nil {
		return prediction.Prediction{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sb_predictions (id, author, title, body, outcomes, status, stake_symbol, min_stake, max_stake, fee_percent, escrow_account, winning_outcome_id, locks_at, settled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, p.ID, p.Author, p.Title, p.Body, outcomesJSON, p.Status, p.StakeSymbol, p.MinStake, p.MaxStake, p.FeePercent, p.EscrowAccount, p.WinningOutcomeID, p.LocksAt, toNullTime(p.SettledAt), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return prediction.Prediction{}, translateErr(err)
	}
	return p, nil
}

func (s *Store) UpdatePrediction(ctx context.Context, p prediction.Prediction) (prediction.Prediction, error) {
	existing, err := s.GetPrediction(ctx, p.ID)
	if err != nil {
		return prediction.Prediction{}, err
	}

	p.Author = existing.Author
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	outcomesJSON, err := json.Marshal(p.Outcomes)
	if err != nil {
		return prediction.Prediction{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sb_predictions
		SET title = $2, body = $3, outcomes = $4, status = $5, stake_symbol = $6, min_stake = $7, max_stake = $8, fee_percent = $9, escrow_account = $10, winning_outcome_id = $11, locks_at = $12, settled_at = $13, updated_at = $14
		WHERE id = $1
	`, p.ID, p.Title, p.Body, outcomesJSON, p.Status, p.StakeSymbol, p.MinStake, p.MaxStake, p.FeePercent, p.EscrowAccount, p.WinningOutcomeID, p.LocksAt, toNullTime(p.SettledAt), p.UpdatedAt)
	if err != nil {
		return prediction.Prediction{}, translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return prediction.Prediction{}, storage.ErrNotFound
	}
	return p, nil
}

const predictionColumns = `id, author, title, body, outcomes, status, stake_symbol, min_stake, max_stake, fee_percent, escrow_account, winning_outcome_id, locks_at, settled_at, created_at, updated_at`

func (s *Store) GetPrediction(ctx context.Context, id string) (prediction.Prediction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+predictionColumns+`
		FROM sb_predictions
		WHERE id = $1
	`, id)

	p, err := scanPrediction(row)
	if err != nil {
		return prediction.Prediction{}, translateErr(err)
	}
	return p, nil
}

func (s *Store) ListPredictions(ctx context.Context, status prediction.Status, author string) ([]prediction.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+predictionColumns+`
		FROM sb_predictions
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR author = LOWER($2))
		ORDER BY created_at DESC
	`, string(status), author)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPredictions(rows)
}

func (s *Store) ListLockable(ctx context.Context, before time.Time) ([]prediction.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+predictionColumns+`
		FROM sb_predictions
		WHERE status = 'open' AND locks_at <= $1
		ORDER BY locks_at
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPredictions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row rowScanner) (prediction.Prediction, error) {
	var (
		p           prediction.Prediction
		outcomesRaw []byte
		settledAt   sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Author, &p.Title, &p.Body, &outcomesRaw, &p.Status, &p.StakeSymbol, &p.MinStake, &p.MaxStake, &p.FeePercent, &p.EscrowAccount, &p.WinningOutcomeID, &p.LocksAt, &settledAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return prediction.Prediction{}, err
	}
	if len(outcomesRaw) > 0 {
		if err := json.Unmarshal(outcomesRaw, &p.Outcomes); err != nil {
			return prediction.Prediction{}, fmt.Errorf("decode outcomes: %w", err)
		}
	}
	if settledAt.Valid {
		p.SettledAt = settledAt.Time.UTC()
	}
	return p, nil
}

func collectPredictions(rows *sql.Rows) ([]prediction.Prediction, error) {
	var result []prediction.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) CreateStake(ctx context.Context, st prediction.Stake) (prediction.Stake, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sb_stakes (id, prediction_id, outcome_id, account, amount, symbol, tx_id, status, payout, payout_tx_id, created_at, updated_at)
		VALUES ($1, $2, $3, LOWER($4), $5, $6, $7, $8, $9, $10, $11, $12)
	`, st.ID, st.PredictionID, st.OutcomeID, st.Account, st.Amount, st.Symbol, st.TxID, st.Status, st.Payout, st.PayoutTxID, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return prediction.Stake{}, translateErr(err)
	}
	return st, nil
}

func (s *Store) UpdateStake(ctx context.Context, st prediction.Stake) (prediction.Stake, error) {
	existing, err := s.GetStake(ctx, st.ID)
	if err != nil {
		return prediction.Stake{}, err
	}

	st.PredictionID = existing.PredictionID
	st.Account = existing.Account
	st.CreatedAt = existing.CreatedAt
	st.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE sb_stakes
		SET outcome_id = $2, amount = $3, symbol = $4, tx_id = $5, status = $6, payout = $7, payout_tx_id = $8, updated_at = $9
		WHERE id = $1
	`, st.ID, st.OutcomeID, st.Amount, st.Symbol, st.TxID, st.Status, st.Payout, st.PayoutTxID, st.UpdatedAt)
	if err != nil {
		return prediction.Stake{}, translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return prediction.Stake{}, storage.ErrNotFound
	}
	return st, nil
}

func (s *Store) TransitionStake(ctx context.Context, id string, from, to prediction.StakeStatus) (prediction.Stake, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sb_stakes
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, from, to, time.Now().UTC())
	if err != nil {
		return prediction.Stake{}, translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := s.GetStake(ctx, id); err != nil {
			return prediction.Stake{}, err
		}
		return prediction.Stake{}, storage.ErrConflict
	}
	return s.GetStake(ctx, id)
}

const stakeColumns = `id, prediction_id, outcome_id, account, amount, symbol, tx_id, status, payout, payout_tx_id, created_at, updated_at`

func (s *Store) GetStake(ctx context.Context, id string) (prediction.Stake, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+stakeColumns+`
		FROM sb_stakes
		WHERE id = $1
	`, id)

	st, err := scanStake(row)
	if err != nil {
		return prediction.Stake{}, translateErr(err)
	}
	return st, nil
}

func (s *Store) GetStakeByAccount(ctx context.Context, predictionID, account string) (prediction.Stake, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+stakeColumns+`
		FROM sb_stakes
		WHERE prediction_id = $1 AND account = LOWER($2)
	`, predictionID, account)

	st, err := scanStake(row)
	if err != nil {
		return prediction.Stake{}, translateErr(err)
	}
	return st, nil
}

func (s *Store) ListStakes(ctx context.Context, predictionID string) ([]prediction.Stake, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stakeColumns+`
		FROM sb_stakes
		WHERE prediction_id = $1
		ORDER BY created_at
	`, predictionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStakes(rows)
}

func (s *Store) ListPendingStakes(ctx context.Context) ([]prediction.Stake, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stakeColumns+`
		FROM sb_stakes
		WHERE status = 'pending'
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStakes(rows)
}

func scanStake(row rowScanner) (prediction.Stake, error) {
	var st prediction.Stake
	if err := row.Scan(&st.ID, &st.PredictionID, &st.OutcomeID, &st.Account, &st.Amount, &st.Symbol, &st.TxID, &st.Status, &st.Payout, &st.PayoutTxID, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return prediction.Stake{}, err
	}
	return st, nil
}

func collectStakes(rows *sql.Rows) ([]prediction.Stake, error) {
	var result []prediction.Stake
	for rows.Next() {
		st, err := scanStake(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

// --- LeaderboardStore ------------------------------------------------------------

func (s *Store) UpsertLeaderboardEntry(ctx context.Context, e leaderboard.Entry) error {
	e.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sb_leaderboard (account, stake_volume, settled, wins, win_rate, net_payout, updated_at)
		VALUES (LOWER($1), $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account) DO UPDATE
		SET stake_volume = $2, settled = $3, wins = $4, win_rate = $5, net_payout = $6, updated_at = $7
	`, e.Account, e.StakeVolume, e.Settled, e.Wins, e.WinRate, e.NetPayout, e.UpdatedAt)
	return translateErr(err)
}

func (s *Store) TopLeaderboard(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, stake_volume, settled, wins, win_rate, net_payout, updated_at
		FROM sb_leaderboard
		ORDER BY net_payout DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []leaderboard.Entry
	for rows.Next() {
		var e leaderboard.Entry
		if err := rows.Scan(&e.Account, &e.StakeVolume, &e.Settled, &e.Wins, &e.WinRate, &e.NetPayout, &e.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *Store) GetLeaderboardEntry(ctx context.Context, account string) (leaderboard.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT account, stake_volume, settled, wins, win_rate, net_payout, updated_at
		FROM sb_leaderboard
		WHERE account = LOWER($1)
	`, account)

	var e leaderboard.Entry
	if err := row.Scan(&e.Account, &e.StakeVolume, &e.Settled, &e.Wins, &e.WinRate, &e.NetPayout, &e.UpdatedAt); err != nil {
		return leaderboard.Entry{}, translateErr(err)
	}
	return e, nil
}

// --- PriceFeedStore --------------------------------------------------------------

func (s *Store) CreatePriceFeed(ctx context.Context, feed pricefeed.Feed) (pricefeed.Feed, error) {
	if feed.ID == "" {
		feed.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	feed.CreatedAt = now
	feed.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sb_price_feeds (id, base_asset, quote_asset, pair, update_interval, active, created_at, updated_at)
		VALUES ($1, $2, $3, UPPER($4), $5, $6, $7, $8)
	`, feed.ID, feed.BaseAsset, feed.QuoteAsset, feed.Pair, feed.UpdateInterval, feed.Active, feed.CreatedAt, feed.UpdatedAt)
	if err != nil {
		return pricefeed.Feed{}, translateErr(err)
	}
	return feed, nil
}

func (s *Store) UpdatePriceFeed(ctx context.Context, feed pricefeed.Feed) (pricefeed.Feed, error) {
	existing, err := s.GetPriceFeed(ctx, feed.ID)
	if err != nil {
		return pricefeed.Feed{}, err
	}

	feed.BaseAsset = existing.BaseAsset
	feed.QuoteAsset = existing.QuoteAsset
	feed.Pair = existing.Pair
	feed.CreatedAt = existing.CreatedAt
	feed.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE sb_price_feeds
		SET update_interval = $2, active = $3, updated_at = $4
		WHERE id = $1
	`, feed.ID, feed.UpdateInterval, feed.Active, feed.UpdatedAt)
	if err != nil {
		return pricefeed.Feed{}, translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return pricefeed.Feed{}, storage.ErrNotFound
	}
	return feed, nil
}

func (s *Store) GetPriceFeed(ctx context.Context, id string) (pricefeed.Feed, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, base_asset, quote_asset, pair, update_interval, active, created_at, updated_at
		FROM sb_price_feeds
		WHERE id = $1
	`, id)

	var feed pricefeed.Feed
	if err := row.Scan(&feed.ID, &feed.BaseAsset, &feed.QuoteAsset, &feed.Pair, &feed.UpdateInterval, &feed.Active, &feed.CreatedAt, &feed.UpdatedAt); err != nil {
		return pricefeed.Feed{}, translateErr(err)
	}
	return feed, nil
}

func (s *Store) ListPriceFeeds(ctx context.Context) ([]pricefeed.Feed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, base_asset, quote_asset, pair, update_interval, active, created_at, updated_at
		FROM sb_price_feeds
		ORDER BY pair
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []pricefeed.Feed
	for rows.Next() {
		var feed pricefeed.Feed
		if err := rows.Scan(&feed.ID, &feed.BaseAsset, &feed.QuoteAsset, &feed.Pair, &feed.UpdateInterval, &feed.Active, &feed.CreatedAt, &feed.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, feed)
	}
	return result, rows.Err()
}

func (s *Store) CreatePriceSnapshot(ctx context.Context, snap pricefeed.Snapshot) (pricefeed.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	snap.CreatedAt = now
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sb_price_feed_snapshots (id, feed_id, price, source, collected_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, snap.ID, snap.FeedID, snap.Price, snap.Source, snap.CollectedAt, snap.CreatedAt)
	if err != nil {
		return pricefeed.Snapshot{}, translateErr(err)
	}
	return snap, nil
}

func (s *Store) LatestPriceSnapshot(ctx context.Context, feedID string) (pricefeed.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, feed_id, price, source, collected_at, created_at
		FROM sb_price_feed_snapshots
		WHERE feed_id = $1
		ORDER BY collected_at DESC
		LIMIT 1
	`, feedID)

	var snap pricefeed.Snapshot
	if err := row.Scan(&snap.ID, &snap.FeedID, &snap.Price, &snap.Source, &snap.CollectedAt, &snap.CreatedAt); err != nil {
		return pricefeed.Snapshot{}, translateErr(err)
	}
	return snap, nil
}

func (s *Store) ListPriceSnapshots(ctx context.Context, feedID string, limit int) ([]pricefeed.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, feed_id, price, source, collected_at, created_at
		FROM sb_price_feed_snapshots
		WHERE feed_id = $1
		ORDER BY collected_at DESC
		LIMIT $2
	`, feedID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []pricefeed.Snapshot
	for rows.Next() {
		var snap pricefeed.Snapshot
		if err := rows.Scan(&snap.ID, &snap.FeedID, &snap.Price, &snap.Source, &snap.CollectedAt, &snap.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}

// --- PostStore --------------------------------------------------------------------

func (s *Store) CreateSoftPost(ctx context.Context, p post.SoftPost) (post.SoftPost, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return post.SoftPost{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sb_soft_posts (id, author, permlink, title, body, tags, community, deleted, created_at, updated_at)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, FALSE, $8, $9)
	`, p.ID, p.Author, p.Permlink, p.Title, p.Body, tagsJSON, p.Community, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return post.SoftPost{}, translateErr(err)
	}
	return p, nil
}

func (s *Store) UpdateSoftPost(ctx context.Context, p post.SoftPost) (post.SoftPost, error) {
	existing, err := s.GetSoftPost(ctx, p.ID)
	if err != nil {
		return post.SoftPost{}, err
	}

	p.Author = existing.Author
	p.Permlink = existing.Permlink
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return post.SoftPost{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sb_soft_posts
		SET title = $2, body = $3, tags = $4, community = $5, updated_at = $6
		WHERE id = $1 AND deleted = FALSE
	`, p.ID, p.Title, p.Body, tagsJSON, p.Community, p.UpdatedAt)
	if err != nil {
		return post.SoftPost{}, translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return post.SoftPost{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetSoftPost(ctx context.Context, id string) (post.SoftPost, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, author, permlink, title, body, tags, community, deleted, created_at, updated_at
		FROM sb_soft_posts
		WHERE id = $1 AND deleted = FALSE
	`, id)

	p, err := scanSoftPost(row)
	if err != nil {
		return post.SoftPost{}, translateErr(err)
	}
	return p, nil
}

func (s *Store) ListSoftPosts(ctx context.Context, author string, limit int) ([]post.SoftPost, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author, permlink, title, body, tags, community, deleted, created_at, updated_at
		FROM sb_soft_posts
		WHERE deleted = FALSE AND ($1 = '' OR author = LOWER($1))
		ORDER BY created_at DESC
		LIMIT $2
	`, author, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []post.SoftPost
	for rows.Next() {
		p, err := scanSoftPost(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) DeleteSoftPost(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sb_soft_posts
		SET deleted = TRUE, updated_at = $2
		WHERE id = $1 AND deleted = FALSE
	`, id, time.Now().UTC())
	if err != nil {
		return translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanSoftPost(row rowScanner) (post.SoftPost, error) {
	var (
		p       post.SoftPost
		tagsRaw []byte
	)
	if err := row.Scan(&p.ID, &p.Author, &p.Permlink, &p.Title, &p.Body, &tagsRaw, &p.Community, &p.Deleted, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return post.SoftPost{}, err
	}
	if len(tagsRaw) > 0 {
		_ = json.Unmarshal(tagsRaw, &p.Tags)
	}
	return p, nil
}

// --- NotificationStore -------------------------------------------------------------

func (s *Store) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sb_notifications (id, account, kind, actor, ref, body, read, created_at)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, FALSE, $7)
	`, n.ID, n.Account, n.Kind, n.Actor, n.Ref, n.Body, n.CreatedAt)
	if err != nil {
		return notification.Notification{}, translateErr(err)
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, account string, unreadOnly bool, limit int) ([]notification.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, kind, actor, ref, body, read, created_at
		FROM sb_notifications
		WHERE account = LOWER($1) AND ($2 = FALSE OR read = FALSE)
		ORDER BY created_at DESC
		LIMIT $3
	`, account, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notification.Notification
	for rows.Next() {
		var n notification.Notification
		if err := rows.Scan(&n.ID, &n.Account, &n.Kind, &n.Actor, &n.Ref, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (s *Store) MarkNotificationsRead(ctx context.Context, account string, ids []string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sb_notifications
		SET read = TRUE
		WHERE account = LOWER($1) AND read = FALSE AND (cardinality($2::text[]) = 0 OR id = ANY($2::uuid[]))
	`, account, pq.Array(ids))
	if err != nil {
		return 0, translateErr(err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func (s *Store) PruneNotifications(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sb_notifications WHERE created_at < $1
	`, olderThan)
	if err != nil {
		return 0, translateErr(err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// --- CursorStore ---------------------------------------------------------------------

func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT block_num FROM sb_chain_cursors WHERE name = $1
	`, name)

	var block int64
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return uint64(block), nil
}

func (s *Store) SaveCursor(ctx context.Context, name string, block uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sb_chain_cursors (name, block_num)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET block_num = $2
	`, name, int64(block))
	return translateErr(err)
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
