package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-catalog/internal/catalog/tax"
)

const listTaxRulesSQL = `SELECT code, country, region, rate, priority
	FROM tax_rules ORDER BY priority, code`

var _ tax.RuleProvider = (*TaxRuleRepository)(nil)

// TaxRuleRepository implements tax.RuleProvider backed by PostgreSQL.
type TaxRuleRepository struct {
	pool *pgxpool.Pool
}

// NewTaxRuleRepository returns a TaxRuleRepository that uses the given pool.
func NewTaxRuleRepository(pool *pgxpool.Pool) *TaxRuleRepository {
	return &TaxRuleRepository{pool: pool}
}

// Rules returns all tax rules ordered by priority.
func (r *TaxRuleRepository) Rules(ctx context.Context) ([]tax.Rule, error) {
	rows, err := r.pool.Query(ctx, listTaxRulesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list tax rules")
	}
	return pgx.CollectRows(rows, scanTaxRule)
}

func scanTaxRule(row pgx.CollectableRow) (tax.Rule, error) {
	var r tax.Rule
	err := row.Scan(&r.Code, &r.Country, &r.Region, &r.Rate, &r.Priority)
	return r, err
}
