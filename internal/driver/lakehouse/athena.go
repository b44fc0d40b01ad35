// Package lakehouse implements the lakehouse driver family against AWS
// Athena: submit → poll terminal states {succeeded, failed, cancelled}
// → paginate result pages. The poll interval is bounded to <=1s via a
// rate limiter, and the driver additionally exposes the query's output
// artifact (the CSV Athena wrote to output_location) through an
// S3-API-compatible client so callers can inspect the raw artifact
// bunquery streamed from.
package lakehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/time/rate"

	"github.com/kartikbazzad/bunbase/bunquery/internal/driver"
)

func init() {
	driver.Register(driver.TypeLakehouse, New)
}

// pollLimit bounds how often the driver may ask Athena for the query's
// status.
var pollLimit = rate.Every(time.Second)

// Config is the lakehouse connector's configBlob shape.
type Config struct {
	Region          string `json:"region"`
	Database        string `json:"database"`
	OutputLocation  string `json:"output_location"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty"`
	WorkGroup       string `json:"workgroup,omitempty"`
	Catalog         string `json:"catalog,omitempty"`
}

func (c *Config) validate() error {
	if c.Region == "" {
		return errors.New("region is required")
	}
	if c.Database == "" {
		return errors.New("database is required")
	}
	if c.OutputLocation == "" {
		return errors.New("output_location is required")
	}
	if c.Catalog == "" {
		c.Catalog = "AwsDataCatalog"
	}
	if c.WorkGroup == "" {
		c.WorkGroup = "primary"
	}
	return nil
}

// Driver is one lakehouse (Athena) session.
type Driver struct {
	config  *Config
	client  *athena.Client
	limiter *rate.Limiter
	s3      *minio.Client
}

// New is the driver.Factory registered for driver.TypeLakehouse.
func New(config json.RawMessage) (driver.Driver, error) {
	var cfg Config
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("parse lakehouse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Driver{config: &cfg, limiter: rate.NewLimiter(pollLimit, 1)}, nil
}

func (d *Driver) Connect(ctx context.Context) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(d.config.Region))
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	if d.config.AccessKeyID != "" && d.config.SecretAccessKey != "" {
		awsCfg.Credentials = awscreds.NewStaticCredentialsProvider(
			d.config.AccessKeyID, d.config.SecretAccessKey, d.config.SessionToken)
	}
	d.client = athena.NewFromConfig(awsCfg)

	bucket, _, err := parseS3URI(d.config.OutputLocation)
	if err == nil && bucket != "" {
		endpoint := fmt.Sprintf("s3.%s.amazonaws.com", d.config.Region)
		var creds *miniocreds.Credentials
		if d.config.AccessKeyID != "" {
			creds = miniocreds.NewStaticV4(d.config.AccessKeyID, d.config.SecretAccessKey, d.config.SessionToken)
		} else {
			creds = miniocreds.NewIAM("")
		}
		s3Client, s3Err := minio.New(endpoint, &minio.Options{Creds: creds, Secure: true})
		if s3Err == nil {
			d.s3 = s3Client
		}
	}
	return nil
}

// Query submits the query text to Athena and polls until the execution
// reaches a terminal state, honoring ctx between polls.
func (d *Driver) Query(ctx context.Context, sqlText string) (driver.RowStream, error) {
	start, err := d.client.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: &sqlText,
		QueryExecutionContext: &types.QueryExecutionContext{
			Database: &d.config.Database,
			Catalog:  &d.config.Catalog,
		},
		ResultConfiguration: &types.ResultConfiguration{
			OutputLocation: &d.config.OutputLocation,
		},
		WorkGroup: &d.config.WorkGroup,
	})
	if err != nil {
		return nil, fmt.Errorf("start query: %w", err)
	}
	queryID := start.QueryExecutionId

	for {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		status, err := d.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: queryID})
		if err != nil {
			return nil, fmt.Errorf("get query status: %w", err)
		}

		switch status.QueryExecution.Status.State {
		case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
			reason := "unknown reason"
			if r := status.QueryExecution.Status.StateChangeReason; r != nil {
				reason = *r
			}
			return nil, fmt.Errorf("query %s: %s", strings.ToLower(string(status.QueryExecution.Status.State)), reason)
		case types.QueryExecutionStateSucceeded:
			return streamOf(ctx, d.client, queryID), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

func streamOf(ctx context.Context, client *athena.Client, queryID *string) driver.RowStream {
	return func(yield func(cols []string, row []driver.Value) error) error {
		var columnInfo []types.ColumnInfo
		var nextToken *string
		firstPage := true

		for {
			output, err := client.GetQueryResults(ctx, &athena.GetQueryResultsInput{
				QueryExecutionId: queryID,
				NextToken:        nextToken,
			})
			if err != nil {
				return fmt.Errorf("get query results: %w", err)
			}

			rows := output.ResultSet.Rows
			if firstPage {
				columnInfo = output.ResultSet.ResultSetMetadata.ColumnInfo
				cols := make([]string, len(columnInfo))
				for i, c := range columnInfo {
					cols[i] = *c.Name
				}
				if err := yield(cols, nil); err != nil {
					return unwrapStop(err)
				}
				firstPage = false
				if len(rows) > 0 {
					rows = rows[1:] // header row
				}
			}

			for _, r := range rows {
				row := make([]driver.Value, len(r.Data))
				for i, cell := range r.Data {
					var typ *string
					if i < len(columnInfo) {
						typ = columnInfo[i].Type
					}
					row[i] = coerce(cell.VarCharValue, typ)
				}
				if err := yield(nil, row); err != nil {
					return unwrapStop(err)
				}
			}

			nextToken = output.NextToken
			if nextToken == nil {
				return nil
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

// coerce converts Athena's string-typed cell values to portable kinds
// using the column's Athena type name.
func coerce(value *string, dataType *string) driver.Value {
	if value == nil {
		return driver.Null()
	}
	if dataType == nil {
		return driver.String(*value)
	}
	switch *dataType {
	case "bigint", "integer", "tinyint", "smallint":
		n, err := strconv.ParseInt(*value, 10, 64)
		if err != nil {
			return driver.String(*value)
		}
		return driver.Int(n)
	case "double", "float", "real":
		f, err := strconv.ParseFloat(*value, 64)
		if err != nil {
			return driver.String(*value)
		}
		return driver.Float(f)
	case "boolean":
		return driver.Bool(*value == "true")
	case "decimal":
		return driver.Decimal(*value)
	case "date":
		return driver.Date(*value)
	case "timestamp":
		t, err := time.Parse("2006-01-02 15:04:05.999", *value)
		if err != nil {
			return driver.String(*value)
		}
		return driver.Instant(t)
	case "varbinary":
		return driver.Bytes([]byte(*value))
	default:
		return driver.String(*value)
	}
}

// ReadArtifact streams the raw CSV Athena wrote to output_location for
// this query's execution ID, via the S3-compatible client. Diagnostic
// only; not part of the row stream.
func (d *Driver) ReadArtifact(ctx context.Context, queryExecutionID string) (*minio.Object, error) {
	if d.s3 == nil {
		return nil, errors.New("lakehouse driver has no S3 client configured")
	}
	bucket, prefix, err := parseS3URI(d.config.OutputLocation)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSuffix(prefix, "/") + "/" + queryExecutionID + ".csv"
	return d.s3.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

func parseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 uri: %s", uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Close is a no-op: Athena executions are not connection-backed, and
// the S3 client holds no resources beyond its HTTP transport.
func (d *Driver) Close() error {
	return nil
}
