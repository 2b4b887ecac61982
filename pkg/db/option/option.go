// Package option holds composable query modifiers for gorm statements.
package option

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/dairyroute/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before execution.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type queryOptionFunc func(*gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// ApplyPagination applies keyset pagination over descending ids. One extra row is
// fetched so callers can tell whether another page follows.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if page.PageToken != "" {
			if cursor, err := pagination.DecodeCursor(page.PageToken); err == nil && cursor.ID != "" {
				db = db.Where("id < ?", cursor.ID)
			}
		}
		return db.Limit(page.Limit() + 1)
	})
}

// WithLimit caps the number of rows returned.
func WithLimit(limit int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}

// SortBy is a validated ORDER BY column and direction.
type SortBy struct {
	Column string
	Desc   bool
}

// WithQuerySortBy validates user-supplied sort parameters against allowed columns.
// Unknown columns yield the zero SortBy, which WithSortBy ignores.
func WithQuerySortBy(sortBy, orderBy string, allowed map[string]bool) SortBy {
	column := strings.ToLower(strings.TrimSpace(sortBy))
	if column == "" || !allowed[column] {
		return SortBy{}
	}
	return SortBy{Column: column, Desc: !strings.EqualFold(strings.TrimSpace(orderBy), "asc")}
}

func WithSortBy(sort SortBy) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if sort.Column == "" {
			return db
		}
		dir := "ASC"
		if sort.Desc {
			dir = "DESC"
		}
		return db.Order(fmt.Sprintf("%s %s", sort.Column, dir))
	})
}

// Operator is a comparison supported by Condition.
type Operator string

const (
	OpEq  Operator = "="
	OpGTE Operator = ">="
	OpLTE Operator = "<="
	OpIn  Operator = "IN"
)

// Condition filters on a single column.
type Condition struct {
	Column   string
	Operator Operator
	Value    any
}

func (c Condition) Apply(db *gorm.DB) *gorm.DB {
	if c.Column == "" || c.Value == nil {
		return db
	}
	switch c.Operator {
	case OpIn:
		return db.Where(fmt.Sprintf("%s IN ?", c.Column), c.Value)
	case OpGTE, OpLTE:
		return db.Where(fmt.Sprintf("%s %s ?", c.Column, c.Operator), c.Value)
	default:
		return db.Where(fmt.Sprintf("%s = ?", c.Column), c.Value)
	}
}

func Eq(column string, value any) QueryOption  { return Condition{column, OpEq, value} }
func GTE(column string, value any) QueryOption { return Condition{column, OpGTE, value} }
func LTE(column string, value any) QueryOption { return Condition{column, OpLTE, value} }
func In(column string, value any) QueryOption  { return Condition{column, OpIn, value} }
