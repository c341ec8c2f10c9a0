package basic

import "database/sql"

// Rows 包装 sql.Rows 以实现 core.IRows
type Rows struct{ rows *sql.Rows }

func (r *Rows) Next() bool              { return r.rows.Next() }
func (r *Rows) Scan(dest ...any) error  { return r.rows.Scan(dest...) }
func (r *Rows) Close() error            { return r.rows.Close() }
func (r *Rows) Err() error              { return r.rows.Err() }
