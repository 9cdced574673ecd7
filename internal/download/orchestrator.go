package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"rmcloud/internal/api"
	"rmcloud/internal/artifactcache"
	"rmcloud/internal/cloud"
	"rmcloud/internal/convert"
	"rmcloud/internal/logging"
)

// maxConvertDetail bounds the converter diagnostic sent to clients.
const maxConvertDetail = 512

// SessionValidator reports whether a session id is live and refreshes it.
type SessionValidator interface {
	Touch(id string) bool
}

// ArtifactStore is the subset of the artifact cache the orchestrator uses.
type ArtifactStore interface {
	Lookup(key artifactcache.Key) ([]byte, bool, error)
	Store(key artifactcache.Key, data []byte) error
}

// Converter turns a raw archive into the converted format.
type Converter interface {
	Enabled() bool
	Convert(ctx context.Context, job convert.Job) ([]byte, error)
}

// VersionSource reports the latest listed version of a document.
type VersionSource interface {
	LatestVersion(id string) (int, bool)
}

// Observer receives pipeline events. Implementations must be safe for
// concurrent use.
type Observer interface {
	CacheLookup(format artifactcache.Format, hit bool)
	Conversion(elapsed time.Duration, err error)
	Resolved(format artifactcache.Format, errorType api.ErrorType, elapsed time.Duration)
}

// Request identifies one artifact.
type Request struct {
	SessionID  string
	DocumentID string
	Version    int
	Format     artifactcache.Format
}

// Orchestrator coordinates cache, cloud and converter.
type Orchestrator struct {
	sessions     SessionValidator
	cloud        cloud.Client
	cache        ArtifactStore
	converter    Converter
	versions     VersionSource
	observer     Observer
	logger       *slog.Logger
	cloudTimeout time.Duration

	flights singleflight.Group
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables caching. A nil store leaves caching disabled.
func WithCache(store ArtifactStore) Option {
	return func(o *Orchestrator) {
		if c, ok := store.(*artifactcache.Cache); ok && c == nil {
			return
		}
		o.cache = store
	}
}

// WithConverter sets the converter used for the converted format.
func WithConverter(converter Converter) Option {
	return func(o *Orchestrator) {
		if r, ok := converter.(*convert.Runner); ok && r == nil {
			return
		}
		o.converter = converter
	}
}

// WithVersionSource supplies the listed versions that gate cache writes.
// Without one, results are served but never cached.
func WithVersionSource(source VersionSource) Option {
	return func(o *Orchestrator) { o.versions = source }
}

// WithObserver installs a pipeline observer (metrics).
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.NewComponentLogger(logger, "download")
	}
}

// WithCloudTimeout bounds each cloud download. Zero disables the bound.
func WithCloudTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) { o.cloudTimeout = timeout }
}

// New builds an Orchestrator.
func New(sessions SessionValidator, client cloud.Client, opts ...Option) (*Orchestrator, error) {
	if sessions == nil {
		return nil, errors.New("download orchestrator requires a session store")
	}
	if client == nil {
		return nil, errors.New("download orchestrator requires a cloud client")
	}
	o := &Orchestrator{
		sessions: sessions,
		cloud:    client,
		observer: nopObserver{},
		logger:   logging.NewComponentLogger(nil, "download"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// CacheEnabled reports whether results are cached.
func (o *Orchestrator) CacheEnabled() bool {
	return o.cache != nil
}

// Supports reports whether format can be served with the current configuration.
func (o *Orchestrator) Supports(format artifactcache.Format) bool {
	switch format {
	case artifactcache.FormatRaw:
		return true
	case artifactcache.FormatConverted:
		return o.converter != nil && o.converter.Enabled()
	default:
		return false
	}
}

// Resolve returns the bytes of the requested artifact. The error, when
// non-nil, is an *api.Error.
func (o *Orchestrator) Resolve(ctx context.Context, req Request) ([]byte, error) {
	start := time.Now()
	data, apiErr := o.resolve(ctx, req)
	var errorType api.ErrorType
	if apiErr != nil {
		errorType = apiErr.Type
	}
	o.observer.Resolved(req.Format, errorType, time.Since(start))
	if apiErr != nil {
		return nil, apiErr
	}
	return data, nil
}

func (o *Orchestrator) resolve(ctx context.Context, req Request) ([]byte, *api.Error) {
	if req.SessionID == "" || !o.sessions.Touch(req.SessionID) {
		return nil, api.NewError(api.ErrorTypeInvalidSession, "unknown or expired session", nil)
	}
	key := artifactcache.Key{DocumentID: req.DocumentID, Version: req.Version, Format: req.Format}
	if err := key.Validate(); err != nil {
		return nil, api.NewError(api.ErrorTypeInvalidParameters, err.Error(), err)
	}
	if !o.Supports(req.Format) {
		return nil, api.NewError(api.ErrorTypeInvalidParameters, fmt.Sprintf("unsupported format %q", req.Format), nil)
	}
	logger := logging.WithContext(ctx, o.logger).With(
		logging.String(logging.FieldDocumentID, key.DocumentID),
		logging.Int(logging.FieldVersion, key.Version),
		logging.String(logging.FieldFormat, string(key.Format)),
	)

	if data, ok := o.lookup(key, logger); ok {
		o.observer.CacheLookup(key.Format, true)
		logger.Debug("cache hit")
		return data, nil
	}
	if o.cache != nil {
		o.observer.CacheLookup(key.Format, false)
	}

	// The shared pipeline must not die with the first caller's request, so it
	// runs detached; every waiter still honours its own ctx.
	flight := o.flights.DoChan(key.String(), func() (any, error) {
		data, apiErr := o.produce(context.WithoutCancel(ctx), key, logger)
		if apiErr != nil {
			return nil, apiErr
		}
		return data, nil
	})
	select {
	case <-ctx.Done():
		return nil, api.NewError(api.ErrorTypeDownloadFile, "request cancelled", ctx.Err())
	case result := <-flight:
		if result.Err != nil {
			return nil, api.FromError(result.Err, api.ErrorTypeDownloadFile)
		}
		if result.Shared {
			logger.Debug("joined in-flight pipeline")
		}
		return result.Val.([]byte), nil
	}
}

// produce runs fetch, optional conversion, and store for one key.
func (o *Orchestrator) produce(ctx context.Context, key artifactcache.Key, logger *slog.Logger) ([]byte, *api.Error) {
	// A flight that finished just before this one started may have stored it.
	if data, ok := o.lookup(key, logger); ok {
		return data, nil
	}

	raw, apiErr := o.fetchRaw(ctx, key, logger)
	if apiErr != nil {
		return nil, apiErr
	}

	result := raw
	if key.Format == artifactcache.FormatConverted {
		converted, err := o.convert(ctx, key, raw)
		if err != nil {
			return nil, err
		}
		result = converted
	}

	o.store(key, result, logger)
	return result, nil
}

// fetchRaw returns the raw archive, from the raw cache entry when a converted
// request can reuse it, otherwise from the cloud.
func (o *Orchestrator) fetchRaw(ctx context.Context, key artifactcache.Key, logger *slog.Logger) ([]byte, *api.Error) {
	if key.Format != artifactcache.FormatRaw {
		rawKey := key
		rawKey.Format = artifactcache.FormatRaw
		if data, ok := o.lookup(rawKey, logger); ok {
			logger.Debug("reusing cached archive for conversion")
			return data, nil
		}
	}

	fetchCtx := ctx
	if o.cloudTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, o.cloudTimeout)
		defer cancel()
	}
	start := time.Now()
	data, err := o.cloud.DownloadDocument(fetchCtx, key.DocumentID)
	if err != nil {
		logging.WarnWithContext(logger, "cloud download failed", "cloud_download",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check network access and the device registration"),
			logging.String(logging.FieldImpact, "document not served"),
		)
		return nil, api.FromError(err, api.ErrorTypeDownloadFile)
	}
	logger.Info("downloaded document", logging.Int("bytes", len(data)), logging.Duration("elapsed", time.Since(start)))
	return data, nil
}

func (o *Orchestrator) convert(ctx context.Context, key artifactcache.Key, raw []byte) ([]byte, *api.Error) {
	start := time.Now()
	data, err := o.converter.Convert(ctx, convert.Job{
		Input:      raw,
		DocumentID: key.DocumentID,
		Version:    key.Version,
	})
	o.observer.Conversion(time.Since(start), err)
	if err == nil {
		return data, nil
	}
	if failure, ok := convert.AsFailure(err); ok {
		return nil, api.NewError(api.ErrorTypeConvertFile, failure.Summary(maxConvertDetail), err)
	}
	if errors.Is(err, convert.ErrUnsupported) {
		return nil, api.NewError(api.ErrorTypeInvalidParameters, fmt.Sprintf("unsupported format %q", key.Format), err)
	}
	return nil, api.FromError(err, api.ErrorTypeConvertFile)
}

// lookup reads key from the cache. Faults are logged and count as a miss.
func (o *Orchestrator) lookup(key artifactcache.Key, logger *slog.Logger) ([]byte, bool) {
	if o.cache == nil {
		return nil, false
	}
	data, ok, err := o.cache.Lookup(key)
	if err != nil {
		logging.WarnWithContext(logger, "cache lookup failed; treating as miss", "cache_io",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions and free space of the cache directory"),
			logging.String(logging.FieldImpact, "document fetched from the cloud"),
		)
		return nil, false
	}
	return data, ok
}

// store writes result under key only when the last listing confirms that
// key.Version is the document's current version. A client-supplied version
// the listing has not confirmed may not match the bytes the cloud returned.
func (o *Orchestrator) store(key artifactcache.Key, data []byte, logger *slog.Logger) {
	if o.cache == nil {
		return
	}
	if o.versions == nil {
		logger.Debug("not caching: no listing to confirm the version")
		return
	}
	latest, ok := o.versions.LatestVersion(key.DocumentID)
	if !ok {
		logger.Info("not caching unlisted document version")
		return
	}
	if latest != key.Version {
		logger.Info("not caching superseded version", logging.Int("latest_version", latest))
		return
	}
	if err := o.cache.Store(key, data); err != nil {
		logging.WarnWithContext(logger, "cache store failed", "cache_io",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions and free space of the cache directory"),
			logging.String(logging.FieldImpact, "document served but not cached"),
		)
	}
}

type nopObserver struct{}

func (nopObserver) CacheLookup(artifactcache.Format, bool)                      {}
func (nopObserver) Conversion(time.Duration, error)                             {}
func (nopObserver) Resolved(artifactcache.Format, api.ErrorType, time.Duration) {}
