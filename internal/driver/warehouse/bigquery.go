// Package warehouse implements the job-based warehouse driver family
// against BigQuery: submit → poll job status (via the SDK's own
// Job.Wait) → read pages through the row iterator.
package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/kartikbazzad/bunbase/bunquery/internal/driver"
)

func init() {
	driver.Register(driver.TypeWarehouse, New)
}

// Config is the warehouse connector's configBlob shape.
type Config struct {
	ProjectID      string `json:"project_id"`
	Dataset        string `json:"dataset"`
	Credentials    string `json:"credentials,omitempty"`
	KeyFilePath    string `json:"key_file_path,omitempty"`
	Location       string `json:"location,omitempty"`
	MaxBillingTier int    `json:"max_billing_tier,omitempty"`
}

func (c *Config) validate() error {
	if c.ProjectID == "" {
		return errors.New("project_id is required")
	}
	if c.Dataset == "" {
		return errors.New("dataset is required")
	}
	if c.Credentials == "" && c.KeyFilePath == "" {
		return errors.New("either credentials or key_file_path must be provided")
	}
	return nil
}

// Driver is one warehouse (BigQuery) session.
type Driver struct {
	config *Config
	client *bigquery.Client
}

// New is the driver.Factory registered for driver.TypeWarehouse.
func New(config json.RawMessage) (driver.Driver, error) {
	var cfg Config
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("parse warehouse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Driver{config: &cfg}, nil
}

func (d *Driver) Connect(ctx context.Context) error {
	var opts []option.ClientOption
	switch {
	case d.config.Credentials != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(d.config.Credentials)))
	case d.config.KeyFilePath != "":
		opts = append(opts, option.WithCredentialsFile(d.config.KeyFilePath))
	}

	client, err := bigquery.NewClient(ctx, d.config.ProjectID, opts...)
	if err != nil {
		return fmt.Errorf("create bigquery client: %w", err)
	}
	if d.config.Location != "" {
		client.Location = d.config.Location
	}
	d.client = client
	return nil
}

// Query submits the job and blocks (honoring ctx) until it reaches a
// terminal state before returning a stream over its result pages.
func (d *Driver) Query(ctx context.Context, sqlText string) (driver.RowStream, error) {
	q := d.client.Query(sqlText)
	q.DefaultDatasetID = d.config.Dataset
	if d.config.MaxBillingTier > 0 {
		tier := d.config.MaxBillingTier
		q.MaxBillingTier = tier
	}

	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("run job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("job failed: %w", err)
	}

	return streamOf(ctx, job), nil
}

// Close releases the BigQuery client. Idempotent.
func (d *Driver) Close() error {
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

func streamOf(ctx context.Context, job *bigquery.Job) driver.RowStream {
	return func(yield func(cols []string, row []driver.Value) error) error {
		it, err := job.Read(ctx)
		if err != nil {
			return fmt.Errorf("read job results: %w", err)
		}

		schema := it.Schema
		cols := make([]string, len(schema))
		for i, f := range schema {
			cols[i] = f.Name
		}
		if err := yield(cols, nil); err != nil {
			return unwrapStop(err)
		}

		for {
			var values []bigquery.Value
			err := it.Next(&values)
			if err == iterator.Done {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read row: %w", err)
			}
			row := make([]driver.Value, len(values))
			for i, v := range values {
				row[i] = coerce(v)
			}
			if err := yield(nil, row); err != nil {
				return unwrapStop(err)
			}
		}
	}
}

func unwrapStop(err error) error {
	if errors.Is(err, driver.ErrStop) {
		return nil
	}
	return err
}

func coerce(v bigquery.Value) driver.Value {
	switch t := v.(type) {
	case nil:
		return driver.Null()
	case bool:
		return driver.Bool(t)
	case int64:
		return driver.Int(t)
	case float64:
		return driver.Float(t)
	case string:
		return driver.String(t)
	case []byte:
		return driver.Bytes(t)
	case time.Time:
		return driver.Instant(t)
	case civil.Date:
		return driver.Date(t.String())
	case civil.DateTime:
		return driver.Instant(t.In(time.UTC))
	case *big.Rat:
		return driver.Decimal(t.FloatString(18))
	default:
		return driver.String(fmt.Sprint(t))
	}
}
