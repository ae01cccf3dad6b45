package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"sharelink/internal/mailer"
	"sharelink/internal/metrics"
	"sharelink/internal/model"
	"sharelink/internal/repository"
	"sharelink/internal/storage"
)

const (
	DefaultMaxUploadBytes int64 = 100 * 1000 * 1000
	DefaultRetention            = 24 * time.Hour

	notificationSubject = "sharelink - File Shared With You"
)

var tracer = otel.Tracer("sharelink/internal/service")

// Config holds the lifecycle limits and the public base URL used to build links.
type Config struct {
	BaseURL        string
	MaxUploadBytes int64
	Retention      time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// UploadResult is returned by a successful upload.
type UploadResult struct {
	Share *model.Share `json:"-"`
	URL   string       `json:"file"`
}

// ShareView is the public metadata of a live share.
type ShareView struct {
	UUID         string `json:"uuid"`
	FileName     string `json:"fileName"`
	FileSize     int64  `json:"fileSize"`
	Size         string `json:"size"`
	ContentType  string `json:"contentType"`
	DownloadLink string `json:"downloadLink"`
	Sent         bool   `json:"sent"`
	// ExpiresAt is the earliest expiry: the share becomes eligible for the sweep at this instant
	// and stays resolvable until a sweep run removes it.
	ExpiresAt time.Time `json:"expiresAt"`
}

// ShareService defines the share lifecycle: upload, notify, resolve and sweep.
type ShareService interface {
	// Upload streams r into the blob store and records a new share.
	// size must be the exact byte count; it is checked against the upload limit before anything is stored.
	Upload(ctx context.Context, r io.Reader, filename, contentType string, size int64) (*UploadResult, error)

	// Send emails the share link to receiver on behalf of sender. A share can be sent once.
	Send(ctx context.Context, token, sender, receiver string) (*mailer.Receipt, error)

	// Resolve returns the blob URL of a live share.
	Resolve(ctx context.Context, token string) (string, error)

	// Get returns the public metadata of a live share.
	Get(ctx context.Context, token string) (*ShareView, error)

	// Sweep removes every share older than the retention window.
	Sweep(ctx context.Context) (*SweepReport, error)
}

type shareService struct {
	store   storage.Storage
	repo    repository.ShareRepository
	mail    mailer.Mailer
	metrics *metrics.Metrics
	log     *zap.Logger
	cfg     Config
	now     func() time.Time
}

// NewShareService constructs a ShareService. m may be nil for processes that never send notifications.
func NewShareService(store storage.Storage, repo repository.ShareRepository, m mailer.Mailer, met *metrics.Metrics, log *zap.Logger, cfg Config) ShareService {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &shareService{
		store:   store,
		repo:    repo,
		mail:    m,
		metrics: met,
		log:     log.With(zap.String("component", "share_service")),
		cfg:     cfg,
		now:     now,
	}
}

func (s *shareService) Upload(ctx context.Context, r io.Reader, filename, contentType string, size int64) (*UploadResult, error) {
	ctx, span := tracer.Start(ctx, "ShareService.Upload", trace.WithAttributes(
		attribute.String("share.file_name", filename),
		attribute.Int64("share.size_bytes", size),
	))
	defer span.End()

	if r == nil || size <= 0 {
		s.countUpload("rejected")
		return nil, ErrFileRequired
	}
	if size > s.cfg.MaxUploadBytes {
		s.countUpload("rejected")
		return nil, ErrFileTooLarge
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	token := uuid.NewString()
	now := s.now().UTC()
	safeName := objectName(filename)
	key := "shares/" + token + "/" + safeName

	info, err := s.store.Put(ctx, key, r, storage.PutObjectOptions{
		Size:        size,
		ContentType: contentType,
		Metadata:    map[string]string{"original-filename": safeName},
	})
	if err != nil {
		return nil, s.failUpload(span, &DependencyError{Op: "upload to storage", Err: err})
	}
	if info.Key == "" {
		info.Key = key
	}
	if info.Size <= 0 {
		info.Size = size
	}

	blobRef, err := s.store.URL(ctx, info.Key)
	if err != nil {
		s.log.Warn("blob stored without a share record", zap.String("storage_key", info.Key), zap.Error(err))
		return nil, s.failUpload(span, &DependencyError{Op: "resolve blob url", Err: err})
	}

	stored, err := s.repo.Create(ctx, &model.Share{
		Token:       token,
		DisplayName: filename,
		BlobRef:     blobRef,
		StorageKey:  info.Key,
		SizeBytes:   info.Size,
		ContentType: contentType,
		CreatedAt:   now,
	})
	if err != nil {
		s.log.Warn("blob stored without a share record", zap.String("storage_key", info.Key), zap.Error(err))
		return nil, s.failUpload(span, &DependencyError{Op: "save share", Err: err})
	}

	s.countUpload("ok")
	if s.metrics != nil {
		s.metrics.UploadedBytes.Add(float64(stored.SizeBytes))
	}
	span.SetAttributes(attribute.String("share.token", stored.Token))
	s.log.Info("share created",
		zap.String("token", stored.Token),
		zap.String("storage_key", stored.StorageKey),
		zap.String("size", humanize.Bytes(uint64(stored.SizeBytes))),
	)
	return &UploadResult{Share: stored, URL: s.shareURL(stored.Token)}, nil
}

func (s *shareService) failUpload(span trace.Span, err error) error {
	s.countUpload("error")
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *shareService) countUpload(result string) {
	if s.metrics != nil {
		s.metrics.Uploads.WithLabelValues(result).Inc()
	}
}

func (s *shareService) Send(ctx context.Context, token, sender, receiver string) (*mailer.Receipt, error) {
	ctx, span := tracer.Start(ctx, "ShareService.Send", trace.WithAttributes(attribute.String("share.token", token)))
	defer span.End()

	receipt, err := s.send(ctx, strings.TrimSpace(token), strings.TrimSpace(sender), strings.TrimSpace(receiver))
	if err != nil {
		var de *DeliveryError
		result := "rejected"
		if errors.As(err, &de) {
			result = "delivery_failed"
		}
		s.countNotification(result)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.countNotification("ok")
	return receipt, nil
}

func (s *shareService) send(ctx context.Context, token, sender, receiver string) (*mailer.Receipt, error) {
	if token == "" || sender == "" || receiver == "" {
		return nil, ErrFieldsRequired
	}

	share, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if share.MarkedForDeletion() {
		return nil, ErrNotFound
	}
	if share.Sent() {
		return nil, ErrAlreadySent
	}

	sender, err = normalizeAddress(sender)
	if err != nil {
		return nil, err
	}
	receiver, err = normalizeAddress(receiver)
	if err != nil {
		return nil, err
	}
	if s.mail == nil {
		return nil, &DependencyError{Op: "send notification", Err: errors.New("mailer is not configured")}
	}

	if err := s.repo.MarkSent(ctx, share.Token, sender, receiver); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadySent
		}
		return nil, &DependencyError{Op: "mark share sent", Err: err}
	}

	html, err := mailer.RenderShareHTML(mailer.ShareEmail{
		EmailFrom:    sender,
		DownloadLink: s.shareURL(share.Token),
		Size:         sizeKB(share.SizeBytes),
		Expires:      expiryNotice(s.cfg.Retention),
	})
	if err != nil {
		return nil, &DependencyError{Op: "render notification", Err: err}
	}

	receipt, err := s.mail.Send(ctx, mailer.Message{
		To:      receiver,
		From:    sender,
		Subject: notificationSubject,
		Text:    sender + " shared a file with you.",
		HTML:    html,
	})
	if err != nil {
		s.log.Error("share notification failed",
			zap.String("token", share.Token),
			zap.String("receiver", receiver),
			zap.Error(err),
		)
		return nil, &DeliveryError{Err: err}
	}

	s.log.Info("share notification sent",
		zap.String("token", share.Token),
		zap.String("receiver", receiver),
		zap.String("message_id", receipt.MessageID),
	)
	return receipt, nil
}

func (s *shareService) countNotification(result string) {
	if s.metrics != nil {
		s.metrics.Notifications.WithLabelValues(result).Inc()
	}
}

func (s *shareService) Resolve(ctx context.Context, token string) (string, error) {
	ctx, span := tracer.Start(ctx, "ShareService.Resolve", trace.WithAttributes(attribute.String("share.token", token)))
	defer span.End()

	share, err := s.live(ctx, token)
	if err != nil {
		s.countResolve(err)
		if !errors.Is(err, ErrLinkExpired) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return "", err
	}
	s.countResolve(nil)
	return share.BlobRef, nil
}

func (s *shareService) Get(ctx context.Context, token string) (*ShareView, error) {
	ctx, span := tracer.Start(ctx, "ShareService.Get", trace.WithAttributes(attribute.String("share.token", token)))
	defer span.End()

	share, err := s.live(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrLinkExpired) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	return &ShareView{
		UUID:         share.Token,
		FileName:     share.DisplayName,
		FileSize:     share.SizeBytes,
		Size:         humanize.Bytes(uint64(share.SizeBytes)),
		ContentType:  share.ContentType,
		DownloadLink: s.cfg.BaseURL + "/files/download/" + share.Token,
		Sent:         share.Sent(),
		ExpiresAt:    share.ExpiresAt(s.cfg.Retention),
	}, nil
}

// live returns a share that has not been swept, or ErrLinkExpired.
func (s *shareService) live(ctx context.Context, token string) (*model.Share, error) {
	share, err := s.lookup(ctx, strings.TrimSpace(token))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrLinkExpired
	}
	if err != nil {
		return nil, err
	}
	if share.MarkedForDeletion() {
		return nil, ErrLinkExpired
	}
	return share, nil
}

func (s *shareService) countResolve(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.metrics.Resolves.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrLinkExpired):
		s.metrics.Resolves.WithLabelValues("expired").Inc()
	default:
		s.metrics.Resolves.WithLabelValues("error").Inc()
	}
}

// lookup fetches a share by token. Tokens that are not UUIDs never reach the record store.
func (s *shareService) lookup(ctx context.Context, token string) (*model.Share, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, ErrNotFound
	}
	share, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &DependencyError{Op: "find share", Err: err}
	}
	return share, nil
}

func (s *shareService) shareURL(token string) string {
	return s.cfg.BaseURL + "/files/" + token
}

// normalizeAddress accepts any RFC 5322 address, display-name form included, and returns the bare address.
func normalizeAddress(addr string) (string, error) {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return "", ErrInvalidEmail
	}
	return parsed.Address, nil
}

// sizeKB renders a byte count the way the notification shows it: whole kilobytes, truncated.
func sizeKB(n int64) string {
	return strconv.FormatInt(n/1000, 10) + " KB"
}

// expiryNotice renders the retention window, e.g. "24 hours".
func expiryNotice(d time.Duration) string {
	if d%time.Hour == 0 {
		return plural(int64(d/time.Hour), "hour")
	}
	if d%time.Minute == 0 {
		return plural(int64(d/time.Minute), "minute")
	}
	return d.String()
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
