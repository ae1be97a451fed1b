package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/escrowhouse/auction-engine/configs"
	"github.com/escrowhouse/auction-engine/pkg/errors"
	"github.com/escrowhouse/auction-engine/pkg/types"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"
)

// Service is the durable journal of committed auctions, offers and
// notifications. The engine writes through after every commit and the
// server rehydrates the arena from it at startup.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error

	// Migrate creates the journal tables when they do not exist.
	Migrate(ctx context.Context) error

	// JOURNAL WRITES (engine.Journal)
	SaveAuction(ctx context.Context, auction types.Auction) error
	SaveOffer(ctx context.Context, auctionID int64, position int, offer types.Offer) error
	SaveEvent(ctx context.Context, event types.Event) error

	// REHYDRATION / READ ACCESS
	GetAuctionById(ctx context.Context, auctionID int64) (types.Auction, error)
	GetAuctions(ctx context.Context) ([]types.Auction, error)
	GetOffers(ctx context.Context) (map[int64][]types.Offer, error)
	GetEventsByAuction(ctx context.Context, auctionID int64) ([]types.Event, error)
}

type service struct {
	db *sql.DB
}

var dbInstance *service

func New(cfg *configs.Config) Service {
	// Reuse Connection
	if dbInstance != nil {
		return dbInstance
	}
	dbConfig := cfg.Database
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.Name,
		dbConfig.SSLMode,
	)
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatal("Error opening database: ", err)
	}

	dbInstance = &service{
		db: db,
	}
	return dbInstance
}

// Open connects to an explicit connection string, bypassing the
// singleton. Integration tests use it against throwaway databases.
func Open(connStr string) (Service, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "error opening database")
	}
	return &service{db: db}, nil
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	// Ping the database
	err := s.db.PingContext(ctx)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		log.Errorf("db down: %v", err)
		return stats
	}

	// Database is up, add more statistics
	stats["status"] = "up"
	stats["message"] = "It's healthy"

	// Get database stats (like open connections, in use, idle, etc.)
	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()
	stats["max_idle_closed"] = strconv.FormatInt(dbStats.MaxIdleClosed, 10)
	stats["max_lifetime_closed"] = strconv.FormatInt(dbStats.MaxLifetimeClosed, 10)

	if dbStats.OpenConnections > 40 {
		stats["message"] = "The database is experiencing heavy load."
	}
	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

// Close closes the database connection.
// It logs a message indicating the disconnection from the specific database.
func (s *service) Close() error {
	log.Info("Disconnected from database")
	return s.db.Close()
}

func (s *service) Migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS auctions (
			"id" BIGINT PRIMARY KEY,
			"owner" TEXT NOT NULL,
			"winner" TEXT NOT NULL DEFAULT '',
			"registry" TEXT NOT NULL,
			"assetId" BIGINT NOT NULL,
			"startPrice" BIGINT NOT NULL,
			"acceptedUser" TEXT NOT NULL DEFAULT '',
			"acceptedValue" BIGINT NOT NULL DEFAULT 0,
			"accepted" BOOLEAN NOT NULL DEFAULT FALSE,
			"bought" BOOLEAN NOT NULL DEFAULT FALSE,
			"status" TEXT NOT NULL,
			"createdAt" TIMESTAMPTZ NOT NULL,
			"updatedAt" TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS offers (
			"auctionId" BIGINT NOT NULL REFERENCES auctions("id"),
			"position" INT NOT NULL,
			"user" TEXT NOT NULL,
			"value" BIGINT NOT NULL,
			"createdAt" TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY ("auctionId", "position")
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			"id" UUID PRIMARY KEY,
			"type" TEXT NOT NULL,
			"timestamp" TIMESTAMPTZ NOT NULL,
			"auctionId" BIGINT NOT NULL,
			"owner" TEXT NOT NULL DEFAULT '',
			"winner" TEXT NOT NULL DEFAULT '',
			"user" TEXT NOT NULL DEFAULT '',
			"registry" TEXT NOT NULL DEFAULT '',
			"assetId" BIGINT NOT NULL DEFAULT 0,
			"price" BIGINT NOT NULL DEFAULT 0,
			"value" BIGINT NOT NULL DEFAULT 0
		)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "error running journal migration")
		}
	}
	return nil
}

func (s *service) SaveAuction(ctx context.Context, auction types.Auction) error {
	query := `
        INSERT INTO auctions
            ("id", "owner", "winner", "registry", "assetId", "startPrice",
             "acceptedUser", "acceptedValue", "accepted", "bought", "status",
             "createdAt", "updatedAt")
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT ("id") DO UPDATE SET
            "winner" = EXCLUDED."winner",
            "acceptedUser" = EXCLUDED."acceptedUser",
            "acceptedValue" = EXCLUDED."acceptedValue",
            "accepted" = EXCLUDED."accepted",
            "bought" = EXCLUDED."bought",
            "status" = EXCLUDED."status",
            "updatedAt" = EXCLUDED."updatedAt"
    `
	_, err := s.db.ExecContext(ctx, query,
		auction.ID,
		auction.Owner,
		auction.Winner,
		auction.Registry,
		auction.AssetID,
		auction.StartPrice,
		auction.AcceptedOffer.User,
		auction.AcceptedOffer.Value,
		auction.Accepted,
		auction.Bought,
		auction.Status,
		auction.CreatedAt,
		auction.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "error saving auction")
	}
	return nil
}

func (s *service) SaveOffer(ctx context.Context, auctionID int64, position int, offer types.Offer) error {
	query := `
        INSERT INTO offers ("auctionId", "position", "user", "value")
        VALUES ($1, $2, $3, $4)
        ON CONFLICT ("auctionId", "position") DO NOTHING
    `
	_, err := s.db.ExecContext(ctx, query, auctionID, position, offer.User, offer.Value)
	if err != nil {
		return errors.Wrap(err, "error saving offer")
	}
	return nil
}

func (s *service) SaveEvent(ctx context.Context, event types.Event) error {
	query := `
        INSERT INTO events
            ("id", "type", "timestamp", "auctionId", "owner", "winner",
             "user", "registry", "assetId", "price", "value")
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Type,
		event.Timestamp,
		event.AuctionID,
		event.Owner,
		event.Winner,
		event.User,
		event.Registry,
		event.AssetID,
		event.Price,
		event.Value,
	)
	if err != nil {
		return errors.Wrap(err, "error saving event")
	}
	return nil
}

const auctionColumns = `
            "id",
            "owner",
            "winner",
            "registry",
            "assetId",
            "startPrice",
            "acceptedUser",
            "acceptedValue",
            "accepted",
            "bought",
            "status",
            "createdAt",
            "updatedAt"`

func scanAuction(row interface{ Scan(dest ...any) error }) (types.Auction, error) {
	var auction types.Auction
	err := row.Scan(
		&auction.ID,
		&auction.Owner,
		&auction.Winner,
		&auction.Registry,
		&auction.AssetID,
		&auction.StartPrice,
		&auction.AcceptedOffer.User,
		&auction.AcceptedOffer.Value,
		&auction.Accepted,
		&auction.Bought,
		&auction.Status,
		&auction.CreatedAt,
		&auction.UpdatedAt,
	)
	return auction, err
}

func (s *service) GetAuctionById(ctx context.Context, auctionID int64) (types.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE "id" = $1`
	auction, err := scanAuction(s.db.QueryRowContext(ctx, query, auctionID))
	if err == sql.ErrNoRows {
		return types.Auction{}, errors.New(errors.ErrAuctionNotFound, "auction not found")
	}
	if err != nil {
		return types.Auction{}, errors.Wrap(err, "error getting auction by id")
	}
	return auction, nil
}

func (s *service) GetAuctions(ctx context.Context) ([]types.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions ORDER BY "id" ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "error getting auctions")
	}
	defer rows.Close()

	var auctions []types.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, errors.Wrap(err, "error scanning auction")
		}
		auctions = append(auctions, auction)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating over auctions")
	}
	return auctions, nil
}

func (s *service) GetOffers(ctx context.Context) (map[int64][]types.Offer, error) {
	query := `SELECT "auctionId", "user", "value" FROM offers ORDER BY "auctionId", "position" ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "error getting offers")
	}
	defer rows.Close()

	offers := make(map[int64][]types.Offer)
	for rows.Next() {
		var auctionID int64
		var offer types.Offer
		if err := rows.Scan(&auctionID, &offer.User, &offer.Value); err != nil {
			return nil, errors.Wrap(err, "error scanning offer")
		}
		offers[auctionID] = append(offers[auctionID], offer)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating over offers")
	}
	return offers, nil
}

func (s *service) GetEventsByAuction(ctx context.Context, auctionID int64) ([]types.Event, error) {
	query := `
        SELECT "id", "type", "timestamp", "auctionId", "owner", "winner",
               "user", "registry", "assetId", "price", "value"
        FROM events WHERE "auctionId" = $1 ORDER BY "timestamp" ASC
    `
	rows, err := s.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, errors.Wrap(err, "error getting events")
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var event types.Event
		err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.Timestamp,
			&event.AuctionID,
			&event.Owner,
			&event.Winner,
			&event.User,
			&event.Registry,
			&event.AssetID,
			&event.Price,
			&event.Value,
		)
		if err != nil {
			return nil, errors.Wrap(err, "error scanning event")
		}
		events = append(events, event)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating over events")
	}
	return events, nil
}
