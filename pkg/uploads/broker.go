package uploads

import (
	"context"
	"errors"
	"fmt"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/platinummonkey/sitework/pkg/audit"
	"github.com/platinummonkey/sitework/pkg/authz"
	"github.com/platinummonkey/sitework/pkg/contextkeys"
	"github.com/platinummonkey/sitework/pkg/observability"
	"github.com/platinummonkey/sitework/pkg/plans"
)

const bytesPerMB = 1024 * 1024

var (
	// ErrInvalidRequest wraps request validation failures
	ErrInvalidRequest = errors.New("invalid presign request")
	// ErrForeignObject is returned for an object key outside the org's prefix
	ErrForeignObject = errors.New("object does not belong to organization")
)

// Authorizer is the combined plan and permission gate. *authz.Gate
// satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, req authz.Request) error
	Snapshot(ctx context.Context, orgID string) (plans.PlanLimits, plans.OrgUsage, error)
}

// UploadRequest asks for a URL to PUT one file
type UploadRequest struct {
	OrgID       string `json:"org_id" validate:"required,max=64"`
	UserID      string `json:"user_id" validate:"required,max=64"`
	FileName    string `json:"file_name" validate:"required,max=255"`
	ContentType string `json:"content_type" validate:"max=255"`
	SizeBytes   int64  `json:"size_bytes" validate:"gt=0"`
}

// DownloadRequest asks for a URL to GET one object
type DownloadRequest struct {
	OrgID     string `json:"org_id" validate:"required,max=64"`
	UserID    string `json:"user_id" validate:"required,max=64"`
	Key       string `json:"key" validate:"required,max=1024"`
	SizeBytes int64  `json:"size_bytes" validate:"gte=0"`
}

// PresignedURL is a time-limited URL the client uses directly against the
// object store
type PresignedURL struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Key       string            `json:"key"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Broker issues presigned URLs once the org has headroom and the user has
// the files permission, and records the usage they consume.
type Broker struct {
	gate      Authorizer
	usage     plans.UsageRecorder
	presigner *s3.PresignClient
	bucket    string
	ttl       time.Duration
	audit     audit.Logger
	metrics   *observability.Metrics
	locale    language.Tag
	now       func() time.Time
	validate  *validator.Validate
}

// Option configures a Broker
type Option func(*Broker)

// WithTTL sets how long issued URLs stay valid
func WithTTL(ttl time.Duration) Option {
	return func(b *Broker) { b.ttl = ttl }
}

// WithAudit records issued URLs to l
func WithAudit(l audit.Logger) Option {
	return func(b *Broker) { b.audit = l }
}

// WithMetrics counts issued URLs
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

// WithLocale sets the fallback language for denial reasons
func WithLocale(tag language.Tag) Option {
	return func(b *Broker) { b.locale = tag }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a broker signing URLs for bucket
func NewBroker(gate Authorizer, usage plans.UsageRecorder, presigner *s3.PresignClient, bucket string, opts ...Option) *Broker {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	b := &Broker{
		gate:      gate,
		usage:     usage,
		presigner: presigner,
		bucket:    bucket,
		ttl:       15 * time.Minute,
		locale:    language.English,
		now:       time.Now,
		validate:  v,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OrgPrefix is the key prefix every object of orgID lives under
func OrgPrefix(orgID string) string {
	return "orgs/" + orgID + "/"
}

// objectKey places the file under a fresh id so names never collide
func objectKey(orgID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if name == "" || name == "." || name == ".." {
		name = "file"
	}
	return OrgPrefix(orgID) + "uploads/" + uuid.NewString() + "/" + name
}

func megabytes(n int64) float64 {
	return float64(n) / bytesPerMB
}

// PresignUpload authorizes the upload, reserves total storage and the
// daily upload budget, then signs a PUT URL.
func (b *Broker) PresignUpload(ctx context.Context, req UploadRequest) (*PresignedURL, error) {
	if err := b.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, describe(err))
	}
	sizeMB := megabytes(req.SizeBytes)

	err := b.gate.Authorize(ctx, authz.Request{
		OrgID:     req.OrgID,
		UserID:    req.UserID,
		Operation: authz.OpUpload,
		UploadMB:  sizeMB,
		FileMB:    sizeMB,
	})
	if err != nil {
		return nil, err
	}

	limits, _, err := b.gate.Snapshot(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}
	if err := b.reserve(ctx, req.OrgID, limits, sizeMB); err != nil {
		return nil, err
	}

	key := objectKey(req.OrgID, req.FileName)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		ContentLength: aws.Int64(req.SizeBytes),
	}
	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}

	signed, err := b.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(b.ttl))
	if err != nil {
		if rerr := b.usage.ReleaseUsage(ctx, req.OrgID, plans.CounterStorageMB, sizeMB); rerr != nil {
			observability.FromContext(ctx).WithError(rerr).Warn("failed to release storage reservation")
		}
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	out := b.result(signed.URL, signed.Method, key, signed.SignedHeader)
	b.record(ctx, audit.EventTypeFileUploadPresign, req.OrgID, req.UserID, key, "upload", map[string]interface{}{
		"size_bytes":   req.SizeBytes,
		"content_type": req.ContentType,
	})
	return out, nil
}

// reserve takes storage first since it can be released if the daily
// budget is already spent
func (b *Broker) reserve(ctx context.Context, orgID string, limits plans.PlanLimits, sizeMB float64) error {
	guard := plans.NewGuard(b.localeFor(ctx))
	full := func(limit *int64) plans.OrgUsage {
		now := b.now()
		u := plans.OrgUsage{OrgID: orgID, DayKey: plans.DayKey(now), MonthKey: plans.MonthKey(now)}
		if limit != nil {
			u.StorageUsedMB = float64(*limit)
			u.UploadUsedMBDay = float64(*limit)
		}
		return u
	}

	ok, err := b.usage.Reserve(ctx, orgID, plans.CounterStorageMB, sizeMB, limits.MaxStorageMB)
	if err != nil {
		return fmt.Errorf("failed to reserve storage: %w", err)
	}
	if !ok {
		return guard.CanStore(limits, full(limits.MaxStorageMB), sizeMB).Err()
	}

	ok, err = b.usage.Reserve(ctx, orgID, plans.CounterUploadMBDay, sizeMB, limits.MaxUploadMBPerDay)
	if err == nil && ok {
		return nil
	}
	if rerr := b.usage.ReleaseUsage(ctx, orgID, plans.CounterStorageMB, sizeMB); rerr != nil {
		observability.FromContext(ctx).WithError(rerr).Warn("failed to release storage reservation")
	}
	if err != nil {
		return fmt.Errorf("failed to reserve daily upload: %w", err)
	}
	return guard.CanUpload(limits, full(limits.MaxUploadMBPerDay), sizeMB, 0).Err()
}

// PresignDownload authorizes the download, records the transfer against
// the monthly budget and signs a GET URL.
func (b *Broker) PresignDownload(ctx context.Context, req DownloadRequest) (*PresignedURL, error) {
	if err := b.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, describe(err))
	}
	if !strings.HasPrefix(req.Key, OrgPrefix(req.OrgID)) || strings.Contains(req.Key, "..") {
		return nil, ErrForeignObject
	}
	sizeGB := megabytes(req.SizeBytes) / 1024

	err := b.gate.Authorize(ctx, authz.Request{
		OrgID:      req.OrgID,
		UserID:     req.UserID,
		Operation:  authz.OpDownload,
		DownloadGB: sizeGB,
	})
	if err != nil {
		return nil, err
	}

	signed, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(req.Key),
	}, s3.WithPresignExpires(b.ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to presign download: %w", err)
	}

	if err := b.usage.RecordUsage(ctx, req.OrgID, plans.CounterDownloadGBMonth, sizeGB); err != nil {
		return nil, fmt.Errorf("failed to record download usage: %w", err)
	}

	out := b.result(signed.URL, signed.Method, req.Key, signed.SignedHeader)
	b.record(ctx, audit.EventTypeFileDownloadPresign, req.OrgID, req.UserID, req.Key, "download", map[string]interface{}{
		"size_bytes": req.SizeBytes,
	})
	return out, nil
}

func (b *Broker) result(url, method, key string, signed map[string][]string) *PresignedURL {
	out := &PresignedURL{
		URL:       url,
		Method:    method,
		Key:       key,
		ExpiresAt: b.now().UTC().Add(b.ttl),
	}
	for name, values := range signed {
		if strings.EqualFold(name, "host") || len(values) == 0 {
			continue
		}
		if out.Headers == nil {
			out.Headers = make(map[string]string)
		}
		out.Headers[name] = values[0]
	}
	return out
}

func (b *Broker) record(ctx context.Context, eventType audit.EventType, orgID, userID, key, direction string, metadata map[string]interface{}) {
	b.metrics.ObservePresign(direction)
	if b.audit == nil {
		return
	}
	err := b.audit.Log(ctx, &audit.AuditEvent{
		EventType:  eventType,
		Status:     audit.EventStatusSuccess,
		OrgID:      orgID,
		ActorID:    userID,
		EntityType: "file",
		EntityID:   key,
		Action:     direction,
		Metadata:   metadata,
	})
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to audit presigned url")
	}
}

func (b *Broker) localeFor(ctx context.Context) language.Tag {
	if tag, ok := contextkeys.GetLocale(ctx); ok {
		return tag
	}
	return b.locale
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "gt", "gte":
			parts = append(parts, fe.Field()+" must be positive")
		case "max":
			parts = append(parts, fe.Field()+" is too long")
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}
