package reindexer

import (
	"context"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"golang.org/x/time/rate"

	"github.com/thedenisnikulin/reindexer/storage"
)

// StoreFactory opens one storage backend per namespace.
type StoreFactory func(nsName string) (storage.Store, error)

type options struct {
	serverID                int16
	role                    Role
	walCapacity             int
	optimizationTimeout     time.Duration
	optimizationSortWorkers int
	storeFactory            StoreFactory
	flushLimiter            *rate.Limiter
	logger                  *Logger
	metrics                 *PerfStats
}

// Option configures Open.
type Option func(*options)

// WithServerID sets the replication server id stamped into every LSN.
func WithServerID(id int16) Option {
	return func(o *options) {
		o.serverID = id
	}
}

// WithSlaveMode opens every namespace as a replication slave: direct
// writes are rejected and changes arrive through ApplyWALRecord.
func WithSlaveMode() Option {
	return func(o *options) {
		o.role = RoleSlave
	}
}

// WithWALCapacity sets the per-namespace WAL ring size.
func WithWALCapacity(n int) Option {
	return func(o *options) {
		o.walCapacity = n
	}
}

// WithOptimizationTimeout sets how long a namespace must stay idle
// before the background optimizer commits its indexes.
func WithOptimizationTimeout(d time.Duration) Option {
	return func(o *options) {
		o.optimizationTimeout = d
	}
}

// WithOptimizationSortWorkers sets the parallelism of the sort-order
// rebuild.
func WithOptimizationSortWorkers(n int) Option {
	return func(o *options) {
		o.optimizationSortWorkers = n
	}
}

// WithStorage attaches a storage backend to every namespace opened
// after this. The factory receives the namespace name and usually
// derives a directory, bucket or prefix from it.
func WithStorage(factory StoreFactory) Option {
	return func(o *options) {
		o.storeFactory = factory
	}
}

// WithLocalStorage is a convenience for a filesystem backend rooted at
// dir with one subdirectory per namespace.
func WithLocalStorage(dir string, codec storage.CodecID) Option {
	return WithStorage(func(nsName string) (storage.Store, error) {
		return storage.Open(storage.Config{Type: storage.TypeLocal, Path: dir + "/" + nsName, Codec: codec})
	})
}

// WithS3Storage persists namespaces as objects under
// bucket/rootPrefix/<namespace>/ using credentials from the ambient AWS
// environment. The bucket must already exist.
func WithS3Storage(ctx context.Context, bucket, rootPrefix string) Option {
	cfg, err := config.LoadDefaultConfig(ctx)
	client := s3.NewFromConfig(cfg)
	return WithStorage(func(nsName string) (storage.Store, error) {
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(client, bucket, path.Join(rootPrefix, nsName)), nil
	})
}

// WithMinioStorage persists namespaces through a MinIO client, one
// object prefix per namespace.
func WithMinioStorage(client *minio.Client, bucket, rootPrefix string) Option {
	return WithStorage(func(nsName string) (storage.Store, error) {
		return storage.NewMinioStore(client, bucket, path.Join(rootPrefix, nsName)), nil
	})
}

// WithFlushRate caps background storage flushes per second across all
// namespaces. Zero keeps the default of ten per second.
func WithFlushRate(perSecond float64) Option {
	return func(o *options) {
		if perSecond > 0 {
			o.flushLimiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithLogger configures structured logging. Pass nil to disable.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the given level and sets it.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		flushLimiter: rate.NewLimiter(rate.Limit(10), 1),
		logger:       NoopLogger(),
		metrics:      NewPerfStats(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
