package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
)

// Postgres is the pgx-backed Store. Units of work run as RepeatableRead
// transactions; row locks are taken with SELECT ... FOR UPDATE in ascending
// id order.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "tx begin failed")
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgHandle{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Wrap(domain.KindInternal, err, "tx commit failed")
	}
	return nil
}

func (p *Postgres) Accounts() AccountRepo                     { return pgAccounts{&pgHandle{q: p.pool}} }
func (p *Postgres) Transactions() TransactionRepo             { return pgTransactions{&pgHandle{q: p.pool}} }
func (p *Postgres) Payments() PaymentRepo                     { return pgPayments{&pgHandle{q: p.pool}} }
func (p *Postgres) PartnerBanks() PartnerBankRepo             { return pgPartnerBanks{&pgHandle{q: p.pool}} }
func (p *Postgres) ConsentRequests() ConsentRequestRepo       { return pgConsentRequests{&pgHandle{q: p.pool}} }
func (p *Postgres) Consents() ConsentRepo                     { return pgConsents{&pgHandle{q: p.pool}} }
func (p *Postgres) ConsentEvents() ConsentEventRepo           { return pgConsentEvents{&pgHandle{q: p.pool}} }
func (p *Postgres) InterbankTransfers() InterbankTransferRepo { return pgInterbank{&pgHandle{q: p.pool}} }
func (p *Postgres) Families() FamilyRepo                      { return pgFamilies{&pgHandle{q: p.pool}} }
func (p *Postgres) FamilyTransfers() FamilyTransferRepo       { return pgFamilyTransfers{&pgHandle{q: p.pool}} }
func (p *Postgres) Notifications() NotificationRepo           { return pgNotifications{&pgHandle{q: p.pool}} }

var _ Store = (*Postgres)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so every repository
// works in auto-commit and transactional mode alike.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgHandle struct {
	q querier
}

func (h *pgHandle) Accounts() AccountRepo                     { return pgAccounts{h} }
func (h *pgHandle) Transactions() TransactionRepo             { return pgTransactions{h} }
func (h *pgHandle) Payments() PaymentRepo                     { return pgPayments{h} }
func (h *pgHandle) PartnerBanks() PartnerBankRepo             { return pgPartnerBanks{h} }
func (h *pgHandle) ConsentRequests() ConsentRequestRepo       { return pgConsentRequests{h} }
func (h *pgHandle) Consents() ConsentRepo                     { return pgConsents{h} }
func (h *pgHandle) ConsentEvents() ConsentEventRepo           { return pgConsentEvents{h} }
func (h *pgHandle) InterbankTransfers() InterbankTransferRepo { return pgInterbank{h} }
func (h *pgHandle) Families() FamilyRepo                      { return pgFamilies{h} }
func (h *pgHandle) FamilyTransfers() FamilyTransferRepo       { return pgFamilyTransfers{h} }
func (h *pgHandle) Notifications() NotificationRepo           { return pgNotifications{h} }

var _ Tx = (*pgHandle)(nil)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func notFoundOr(err error, format string, args ...any) error {
	if err == pgx.ErrNoRows {
		return domain.E(domain.KindNotFound, format, args...)
	}
	return domain.Wrap(domain.KindInternal, err, format, args...)
}
