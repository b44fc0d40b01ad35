// Package relational implements the relational driver family against
// PostgreSQL via pgx. Prepared statements are cached by pgx's default
// statement cache; TLS is optional via PEM-encoded root/client
// certificate pairs.
package relational

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kartikbazzad/bunbase/bunquery/internal/driver"
)

func init() {
	driver.Register(driver.TypeRelational, New)
}

// Config is the relational connector's configBlob shape.
type Config struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode,omitempty"`
	SSLCert         string        `json:"ssl_cert,omitempty"`
	SSLKey          string        `json:"ssl_key,omitempty"`
	SSLRootCert     string        `json:"ssl_root_cert,omitempty"`
	SearchPath      string        `json:"search_path,omitempty"`
	ApplicationName string        `json:"application_name,omitempty"`
	MaxOpenConns    int           `json:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty"`
}

func (c *Config) validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Database == "" {
		return errors.New("database is required")
	}
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	switch c.SSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("invalid ssl_mode: %s", c.SSLMode)
	}
	if (c.SSLCert != "") != (c.SSLKey != "") {
		return errors.New("both ssl_cert and ssl_key must be provided if one is specified")
	}
	return nil
}

// Driver is a relational driver instance: it owns exactly one pgx
// connection for the lifetime of one QueryTask.
type Driver struct {
	config *Config
	conn   *pgx.Conn
}

// New is the driver.Factory registered for driver.TypeRelational. It is
// pure config parsing/validation; no I/O happens here.
func New(config json.RawMessage) (driver.Driver, error) {
	var cfg Config
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("parse relational config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Driver{config: &cfg}, nil
}

func (d *Driver) buildConnConfig() (*pgx.ConnConfig, error) {
	dsn := fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=%s",
		d.config.Username, d.config.Host, d.config.Port, d.config.Database, d.config.SSLMode)
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	cfg.Password = d.config.Password
	cfg.ConnectTimeout = 10 * time.Second

	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	if d.config.SearchPath != "" {
		cfg.RuntimeParams["search_path"] = d.config.SearchPath
	}
	if d.config.ApplicationName != "" {
		cfg.RuntimeParams["application_name"] = d.config.ApplicationName
	}

	if d.config.SSLMode == "disable" || d.config.SSLRootCert == "" {
		cfg.TLSConfig = nil
		return cfg, nil
	}

	rootPool := x509.NewCertPool()
	if !rootPool.AppendCertsFromPEM([]byte(d.config.SSLRootCert)) {
		return nil, errors.New("failed to append CA certificate")
	}
	tlsCfg := &tls.Config{RootCAs: rootPool, MinVersion: tls.VersionTLS12}
	if d.config.SSLCert != "" && d.config.SSLKey != "" {
		cert, err := tls.X509KeyPair([]byte(d.config.SSLCert), []byte(d.config.SSLKey))
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	cfg.TLSConfig = tlsCfg
	return cfg, nil
}

// Connect establishes and validates a single live pgx connection. It
// honors ctx: a cancelled ctx aborts pgx.ConnectConfig/Ping promptly.
func (d *Driver) Connect(ctx context.Context) error {
	cfg, err := d.buildConnConfig()
	if err != nil {
		return fmt.Errorf("build config: %w", err)
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(context.Background())
		return fmt.Errorf("ping: %w", err)
	}
	d.conn = conn
	return nil
}

// Query starts streaming execution. The returned RowStream has not
// materialized any rows yet; rows.Next is driven entirely inside the
// stream function.
func (d *Driver) Query(ctx context.Context, sqlText string) (driver.RowStream, error) {
	rows, err := d.conn.Query(ctx, sqlText)
	if err != nil {
		if code, retryable := classify(err); retryable {
			return nil, retryableErr{code: code, cause: err}
		}
		return nil, fmt.Errorf("execute query: %w", err)
	}
	return streamOf(rows), nil
}

func streamOf(rows pgx.Rows) driver.RowStream {
	return func(yield func(cols []string, row []driver.Value) error) error {
		defer rows.Close()

		fields := rows.FieldDescriptions()
		cols := make([]string, len(fields))
		for i, f := range fields {
			cols[i] = string(f.Name)
		}
		if err := yield(cols, nil); err != nil {
			return unwrapStop(err)
		}

		for rows.Next() {
			raw, err := rows.Values()
			if err != nil {
				return fmt.Errorf("read row: %w", err)
			}
			row := make([]driver.Value, len(raw))
			for i, v := range raw {
				row[i] = coerce(v)
			}
			if err := yield(nil, row); err != nil {
				return unwrapStop(err)
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("row iteration: %w", err)
		}
		return nil
	}
}

func unwrapStop(err error) error {
	if errors.Is(err, driver.ErrStop) {
		return nil
	}
	return err
}

// coerce decodes pgx's decoded Go representation of a column value into
// bunquery's portable Value kinds. pgx already decodes numerics/uuids/
// timestamps into native Go types (int64, pgtype.Numeric, [16]byte,
// time.Time, ...) so this is mostly a Go-type switch rather than raw
// wire decoding.
func coerce(v interface{}) driver.Value {
	switch t := v.(type) {
	case nil:
		return driver.Null()
	case bool:
		return driver.Bool(t)
	case int16:
		return driver.Int(int64(t))
	case int32:
		return driver.Int(int64(t))
	case int64:
		return driver.Int(t)
	case float32:
		return driver.Float(float64(t))
	case float64:
		return driver.Float(t)
	case string:
		return driver.String(t)
	case []byte:
		return driver.Bytes(t)
	case time.Time:
		return driver.Instant(t)
	case pgtype.Numeric:
		return driver.Decimal(numericString(t))
	case [16]byte:
		return driver.UUID(t)
	case fmt.Stringer:
		return driver.String(t.String())
	default:
		return driver.String(fmt.Sprintf("%v", t))
	}
}

func numericString(n pgtype.Numeric) string {
	if !n.Valid {
		return ""
	}
	if n.Exp >= 0 {
		pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil)
		return new(big.Int).Mul(n.Int, pow).String()
	}
	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil)
	return new(big.Rat).SetFrac(n.Int, pow).FloatString(int(-n.Exp))
}

// Close releases the backend session. Idempotent and safe after a
// partial Connect.
func (d *Driver) Close() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close(context.Background())
	d.conn = nil
	return err
}

type retryableErr struct {
	code  string
	cause error
}

func (e retryableErr) Error() string  { return fmt.Sprintf("retryable error (%s): %v", e.code, e.cause) }
func (e retryableErr) Unwrap() error  { return e.cause }
func (e retryableErr) Retryable() bool { return true }

// classify reports whether a Postgres error code is one the resolver
// should surface as retryable: serialization failure, deadlock,
// lock-not-available, admin/crash shutdown, cannot-connect-now. The
// driver never retries itself; classification is informational.
func classify(err error) (code string, retryable bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03", "57P01", "57P02", "57P03":
		return pgErr.Code, true
	}
	return pgErr.Code, false
}
