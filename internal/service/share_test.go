package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sharelink/internal/mailer"
	mailMocks "sharelink/internal/mailer/mocks"
	"sharelink/internal/metrics"
	"sharelink/internal/model"
	"sharelink/internal/repository"
	repoMocks "sharelink/internal/repository/mocks"
	"sharelink/internal/storage"
	storeMocks "sharelink/internal/storage/mocks"
)

const (
	testToken   = "3f1c2b9e-7a4d-4c1e-9f2a-1b2c3d4e5f60"
	testBaseURL = "https://share.example.com"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *storeMocks.MockStorage
	repo    *repoMocks.MockShareRepository
	mail    *mailMocks.MockMailer
	metrics *metrics.Metrics
	logs    *observer.ObservedLogs
	svc     ShareService
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	f := &fixture{
		store:   new(storeMocks.MockStorage),
		repo:    new(repoMocks.MockShareRepository),
		mail:    new(mailMocks.MockMailer),
		metrics: metrics.New(prometheus.NewRegistry()),
		logs:    logs,
	}
	cfg := Config{
		BaseURL:        testBaseURL + "/",
		MaxUploadBytes: 100 * 1000 * 1000,
		Retention:      24 * time.Hour,
		Now:            func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.svc = NewShareService(f.store, f.repo, f.mail, f.metrics, zap.New(core), cfg)
	t.Cleanup(func() {
		f.store.AssertExpectations(t)
		f.repo.AssertExpectations(t)
		f.mail.AssertExpectations(t)
	})
	return f
}

func liveShare() *model.Share {
	return &model.Share{
		Token:       testToken,
		DisplayName: "report.pdf",
		BlobRef:     "http://minio:9000/shares/shares/" + testToken + "/report.pdf",
		StorageKey:  "shares/" + testToken + "/report.pdf",
		SizeBytes:   5500,
		ContentType: "application/pdf",
		CreatedAt:   fixedNow.Add(-time.Hour),
	}
}

func TestShareService_Upload(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		size        int64
		nilReader   bool
		setupMocks  func(f *fixture)
		wantURL     string
		wantErr     error
		wantErrMsg  string
		wantResult  string
	}{
		{
			name:        "happy path",
			filename:    "report.pdf",
			contentType: "application/pdf",
			size:        5,
			setupMocks: func(f *fixture) {
				f.store.On("Put", mock.Anything, mock.MatchedBy(func(key string) bool {
					return strings.HasPrefix(key, "shares/") && strings.HasSuffix(key, "/report.pdf")
				}), mock.Anything, storage.PutObjectOptions{
					Size:        5,
					ContentType: "application/pdf",
					Metadata:    map[string]string{"original-filename": "report.pdf"},
				}).Return(func(_ context.Context, key string, _ io.Reader, _ storage.PutObjectOptions) storage.ObjectInfo {
					return storage.ObjectInfo{Key: key, Size: 5}
				}, nil)
				f.store.On("URL", mock.Anything, mock.Anything).
					Return(func(_ context.Context, key string) string { return "http://minio:9000/shares/" + key }, nil)
				f.repo.On("Create", mock.Anything, mock.MatchedBy(func(s *model.Share) bool {
					return s.DisplayName == "report.pdf" &&
						s.SizeBytes == 5 &&
						s.BlobRef == "http://minio:9000/shares/"+s.StorageKey &&
						s.CreatedAt.Equal(fixedNow) &&
						strings.Contains(s.StorageKey, s.Token) &&
						s.Sender == "" && s.Receiver == ""
				})).Return(&model.Share{Token: testToken, SizeBytes: 5}, nil)
			},
			wantURL:    testBaseURL + "/files/" + testToken,
			wantResult: "ok",
		},
		{
			name:     "missing content type defaults to octet-stream",
			filename: "blob",
			size:     3,
			setupMocks: func(f *fixture) {
				f.store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.MatchedBy(func(o storage.PutObjectOptions) bool {
					return o.ContentType == "application/octet-stream"
				})).Return(storage.ObjectInfo{Key: "shares/k/blob", Size: 3}, nil)
				f.store.On("URL", mock.Anything, "shares/k/blob").Return("http://minio/blob", nil)
				f.repo.On("Create", mock.Anything, mock.Anything).Return(&model.Share{Token: testToken, SizeBytes: 3}, nil)
			},
			wantURL:    testBaseURL + "/files/" + testToken,
			wantResult: "ok",
		},
		{
			name:       "empty file",
			filename:   "empty.txt",
			size:       0,
			setupMocks: func(f *fixture) {},
			wantErr:    ErrFileRequired,
			wantResult: "rejected",
		},
		{
			name:       "nil reader",
			filename:   "x.txt",
			size:       5,
			nilReader:  true,
			setupMocks: func(f *fixture) {},
			wantErr:    ErrFileRequired,
			wantResult: "rejected",
		},
		{
			name:       "over the limit never reaches storage",
			filename:   "big.iso",
			size:       101 * 1000 * 1000,
			setupMocks: func(f *fixture) {},
			wantErr:    ErrFileTooLarge,
			wantResult: "rejected",
		},
		{
			name:     "exactly at the limit",
			filename: "edge.bin",
			size:     100 * 1000 * 1000,
			setupMocks: func(f *fixture) {
				f.store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(storage.ObjectInfo{Key: "shares/k/edge.bin", Size: 100 * 1000 * 1000}, nil)
				f.store.On("URL", mock.Anything, "shares/k/edge.bin").Return("http://minio/edge.bin", nil)
				f.repo.On("Create", mock.Anything, mock.Anything).Return(&model.Share{Token: testToken, SizeBytes: 100 * 1000 * 1000}, nil)
			},
			wantURL:    testBaseURL + "/files/" + testToken,
			wantResult: "ok",
		},
		{
			name:     "storage error",
			filename: "x.txt",
			size:     5,
			setupMocks: func(f *fixture) {
				f.store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(storage.ObjectInfo{}, errors.New("storage fail"))
			},
			wantErrMsg: "upload to storage: storage fail",
			wantResult: "error",
		},
		{
			name:     "url error leaves the blob",
			filename: "x.txt",
			size:     5,
			setupMocks: func(f *fixture) {
				f.store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(storage.ObjectInfo{Key: "shares/k/x.txt", Size: 5}, nil)
				f.store.On("URL", mock.Anything, "shares/k/x.txt").Return("", errors.New("sign fail"))
			},
			wantErrMsg: "resolve blob url: sign fail",
			wantResult: "error",
		},
		{
			name:     "repository error leaves the blob",
			filename: "x.txt",
			size:     5,
			setupMocks: func(f *fixture) {
				f.store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(storage.ObjectInfo{Key: "shares/k/x.txt", Size: 5}, nil)
				f.store.On("URL", mock.Anything, "shares/k/x.txt").Return("http://minio/x.txt", nil)
				f.repo.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("db fail"))
			},
			wantErrMsg: "save share: db fail",
			wantResult: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setupMocks(f)

			var r io.Reader = strings.NewReader("hello")
			if tt.nilReader {
				r = nil
			}
			res, err := f.svc.Upload(context.Background(), r, tt.filename, tt.contentType, tt.size)

			assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Uploads.WithLabelValues(tt.wantResult)))
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrValidation)
				assert.Nil(t, res)
				f.store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			case tt.wantErrMsg != "":
				assert.EqualError(t, err, tt.wantErrMsg)
				var de *DependencyError
				assert.ErrorAs(t, err, &de)
				assert.Nil(t, res)
				f.store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantURL, res.URL)
				assert.Equal(t, testToken, res.Share.Token)
				assert.Equal(t, float64(res.Share.SizeBytes), testutil.ToFloat64(f.metrics.UploadedBytes))
			}
		})
	}
}

func TestShareService_Upload_OrphanIsLogged(t *testing.T) {
	f := newFixture(t)
	f.store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(storage.ObjectInfo{Key: "shares/k/x.txt", Size: 5}, nil)
	f.store.On("URL", mock.Anything, "shares/k/x.txt").Return("http://minio/x.txt", nil)
	f.repo.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("db fail"))

	_, err := f.svc.Upload(context.Background(), strings.NewReader("hello"), "x.txt", "text/plain", 5)

	require.Error(t, err)
	entries := f.logs.FilterMessage("blob stored without a share record").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "shares/k/x.txt", entries[0].ContextMap()["storage_key"])
}

func TestShareService_Send(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		sender     string
		receiver   string
		setupMocks func(f *fixture)
		wantErr    error
		wantErrMsg string
		wantResult string
	}{
		{
			name:     "happy path",
			token:    testToken,
			sender:   "a@x.com",
			receiver: "b@x.com",
			setupMocks: func(f *fixture) {
				f.repo.On("FindByToken", mock.Anything, testToken).Return(liveShare(), nil)
				f.repo.On("MarkSent", mock.Anything, testToken, "a@x.com", "b@x.com").Return(nil)
				f.mail.On("Send", mock.Anything, mock.MatchedBy(func(m mailer.Message) bool {
					return m.To == "b@x.com" &&
						m.From == "a@x.com" &&
						m.Subject == "sharelink - File Shared With You" &&
						m.Text == "a@x.com shared a file with you." &&
						strings.Contains(m.HTML, testBaseURL+"/files/"+testToken) &&
						strings.Contains(m.HTML, "Size: 5 KB") &&
						strings.Contains(m.HTML, "24 hours")
				})).Return(&mailer.Receipt{MessageID: "<id@x>", AcceptedAt: fixedNow}, nil)
			},
			wantResult: "ok",
		},
		{
			name:       "missing receiver",
			token:      testToken,
			sender:     "a@x.com",
			setupMocks: func(f *fixture) {},
			wantErr:    ErrFieldsRequired,
			wantResult: "rejected",
		},
		{
			name:       "blank token",
			token:      "   ",
			sender:     "a@x.com",
			receiver:   "b@x.com",
			setupMocks: func(f *fixture) {},
			wantErr:    ErrFieldsRequired,
			wantResult: "rejected",
		},
		{
			name:     "malformed receiver",
			token:    testToken,
			sender:   "a@x.com",
			receiver: "not-an-email",
			setupMocks: func(f *fixture) {
				f.repo.On("FindByToken", mock.Anything, testToken).Return(liveShare(), nil)
			},
			wantErr:    ErrInvalidEmail,
			wantResult: "rejected",
		},
		{
			name:     "display name form is stored as the bare address",
			token:    testToken,
			sender:   "Alice <a@x.com>",
			receiver: "b@x.com",
			setupMocks: func(f *fixture) {
				f.repo.On("FindByToken", mock.Anything, testToken).Return(liveShare(), nil)
				f.repo.On("MarkSent", mock.Anything, testToken, "a@x.com", "b@x.com").Return(nil)
				f.mail.On("Send", mock.Anything, mock.MatchedBy(func(m mailer.Message) bool {
					return m.From == "a@x.com" && m.To == "b@x.com" && m.Text == "a@x.com shared a file with you."
				})).Return(&mailer.Receipt{MessageID: "<id@x>", AcceptedAt: fixedNow}, nil)
			},
			wantResult: "ok",
		},
		{
			name:       "malformed token never reaches the store",
			token:      "not-a-uuid",
			sender:     "a@x.com",
			receiver:   "b@x.com",
			setupMocks: func(f *fixture) {},
			wantErr:    ErrNotFound,
			wantResult: "rejected",
		},
		{
			name:     "unknown token",
			token:    testToken,
			sender:   "a@x.com",
			receiver: "b@x.com",
			setupMocks: func(f *fixture) {
				f.repo.On("FindByToken", mock.Anything, testToken).Return(nil, repository.ErrNotFound)
			},
			wantErr:    ErrNotFound,
			wantResult: "rejected",
		},
		{
			name:     "unknown token with a malformed address",
			token:    testToken,
			sender:   "a@x.com",
			receiver: "bob",
			setupMocks: func(f *fixture) {
				f.repo.On("FindByToken", mock.Anything, testToken).Return(nil, repository.ErrNotFound)
			},
			wantErr:    ErrNotFound,
			wantResult: "rejected",
		},
		{
			name:     "share being swept",
			token:    testToken,
			sender:   "a@x.com",
			receiver: "b@x.com",
			setupMocks: func(f *fixture) {
				sh := liveShare()
				at := fixedNow
				sh.DeletingAt = &at
				f.repo.On("FindByToken", mock.Anything, testToken).Return(sh, nil)
			},
			wantErr:    ErrNotFound,
			wantResult: "rejected",
		},
		{
			name:     "already sent",
			token:    testToken,
			sender:   "a@x.com",
			receiver: "b@x.com",
			setupMocks: func(f *fixture) {
				sh := liveShare()
				sh.Sender, sh.Receiver = "c@x.com", "d@x.com"
				f.repo.On("FindByToken", mock.Anything, testToken).Return(sh, nil)
			},
			wantErr:    ErrAlreadySent,
			wantResult: "rejected",
		},
		{
			name:     "already sent with a malformed receiver",
			token:    testToken,
			sender:   "a@x.com",
			receiver: "bob",
			setupMocks: func(f *fixture) {
				sh := liveShare()
				sh.Sender, sh.Receiver = "c@x.com", "d@x.com"
				f.repo.On("FindByToken", mock.Anything, testToken).Return(sh, nil)
			},
			wantErr:    ErrAlreadySent,
			wantResult: "rejected",
		},
		{
			name:     "already sent with a display name sender",
			token:    testToken,
			sender:   "Alice <a@x.com>",
			receiver: "b@x.com",
			setupMocks: func(f *fixture) {
				sh := liveShare()
				sh.Sender, sh.Receiver = "c@x.com", "d@x.com"
				f.repo.On("FindByToken", mock.Anything, testToken).Return(sh, nil)
			},
			wantErr:    ErrAlreadySent,
			wantResult: "rejected",
		},
		{
			name:     "lost the race to another send",
			token:    testToken,
			sender:   "a@x.com",
			receiver: "b@x.com",
			setupMocks: func(f *fixture) {
				f.repo.On("FindByToken", mock.Anything, testToken).Return(liveShare(), nil)
				f.repo.On("MarkSent", mock.Anything, testToken, "a@x.com", "b@x.com").Return(repository.ErrConflict)
			},
			wantErr:    ErrAlreadySent,
			wantResult: "rejected",
		},
		{
			name:     "lookup failure",
			token:    testToken,
			sender:   "a@x.com",
			receiver: "b@x.com",
			setupMocks: func(f *fixture) {
				f.repo.On("FindByToken", mock.Anything, testToken).Return(nil, errors.New("conn refused"))
			},
			wantErrMsg: "find share: conn refused",
			wantResult: "rejected",
		},
		{
			name:     "mark failure",
			token:    testToken,
			sender:   "a@x.com",
			receiver: "b@x.com",
			setupMocks: func(f *fixture) {
				f.repo.On("FindByToken", mock.Anything, testToken).Return(liveShare(), nil)
				f.repo.On("MarkSent", mock.Anything, testToken, "a@x.com", "b@x.com").Return(errors.New("conn reset"))
			},
			wantErrMsg: "mark share sent: conn reset",
			wantResult: "rejected",
		},
		{
			name:     "delivery failure keeps the share marked",
			token:    testToken,
			sender:   "a@x.com",
			receiver: "b@x.com",
			setupMocks: func(f *fixture) {
				f.repo.On("FindByToken", mock.Anything, testToken).Return(liveShare(), nil)
				f.repo.On("MarkSent", mock.Anything, testToken, "a@x.com", "b@x.com").Return(nil)
				f.mail.On("Send", mock.Anything, mock.Anything).Return(nil, errors.New("535 authentication failed"))
			},
			wantErrMsg: "deliver notification: 535 authentication failed",
			wantResult: "delivery_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setupMocks(f)

			receipt, err := f.svc.Send(context.Background(), tt.token, tt.sender, tt.receiver)

			assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Notifications.WithLabelValues(tt.wantResult)))
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, receipt)
				f.mail.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
			case tt.wantErrMsg != "":
				assert.EqualError(t, err, tt.wantErrMsg)
				assert.Nil(t, receipt)
			default:
				require.NoError(t, err)
				assert.Equal(t, "<id@x>", receipt.MessageID)
			}
		})
	}
}

func TestShareService_Send_DeliveryErrorUnwraps(t *testing.T) {
	f := newFixture(t)
	transportErr := errors.New("dial tcp: i/o timeout")
	f.repo.On("FindByToken", mock.Anything, testToken).Return(liveShare(), nil)
	f.repo.On("MarkSent", mock.Anything, testToken, "a@x.com", "b@x.com").Return(nil)
	f.mail.On("Send", mock.Anything, mock.Anything).Return(nil, transportErr)

	_, err := f.svc.Send(context.Background(), testToken, "a@x.com", "b@x.com")

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, transportErr)
	assert.NotErrorIs(t, err, ErrValidation)
	require.Len(t, f.logs.FilterMessage("share notification failed").All(), 1)
}

func TestShareService_Send_WithoutMailer(t *testing.T) {
	repo := new(repoMocks.MockShareRepository)
	repo.On("FindByToken", mock.Anything, testToken).Return(liveShare(), nil)
	svc := NewShareService(new(storeMocks.MockStorage), repo, nil, nil, nil, Config{BaseURL: testBaseURL})

	_, err := svc.Send(context.Background(), testToken, "a@x.com", "b@x.com")

	var de *DependencyError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "send notification", de.Op)
	repo.AssertNotCalled(t, "MarkSent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestShareService_Resolve(t *testing.T) {
	marked := liveShare()
	at := fixedNow
	marked.DeletingAt = &at

	tests := []struct {
		name       string
		token      string
		setupMocks func(f *fixture)
		want       string
		wantErr    error
		wantErrMsg string
		wantResult string
	}{
		{
			name:  "live share",
			token: testToken,
			setupMocks: func(f *fixture) {
				f.repo.On("FindByToken", mock.Anything, testToken).Return(liveShare(), nil)
			},
			want:       liveShare().BlobRef,
			wantResult: "ok",
		},
		{
			name:  "swept share",
			token: testToken,
			setupMocks: func(f *fixture) {
				f.repo.On("FindByToken", mock.Anything, testToken).Return(nil, repository.ErrNotFound)
			},
			wantErr:    ErrLinkExpired,
			wantResult: "expired",
		},
		{
			name:  "share being swept",
			token: testToken,
			setupMocks: func(f *fixture) {
				f.repo.On("FindByToken", mock.Anything, testToken).Return(marked, nil)
			},
			wantErr:    ErrLinkExpired,
			wantResult: "expired",
		},
		{
			name:       "malformed token",
			token:      "../etc/passwd",
			setupMocks: func(f *fixture) {},
			wantErr:    ErrLinkExpired,
			wantResult: "expired",
		},
		{
			name:  "store failure is not an expired link",
			token: testToken,
			setupMocks: func(f *fixture) {
				f.repo.On("FindByToken", mock.Anything, testToken).Return(nil, errors.New("timeout"))
			},
			wantErrMsg: "find share: timeout",
			wantResult: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setupMocks(f)

			got, err := f.svc.Resolve(context.Background(), tt.token)

			assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Resolves.WithLabelValues(tt.wantResult)))
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, got)
			case tt.wantErrMsg != "":
				assert.EqualError(t, err, tt.wantErrMsg)
				assert.NotErrorIs(t, err, ErrLinkExpired)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestShareService_Resolve_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.repo.On("FindByToken", mock.Anything, testToken).Return(liveShare(), nil).Twice()

	first, err := f.svc.Resolve(context.Background(), testToken)
	require.NoError(t, err)
	second, err := f.svc.Resolve(context.Background(), testToken)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	f.repo.AssertNotCalled(t, "MarkSent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestShareService_Get(t *testing.T) {
	f := newFixture(t)
	sh := liveShare()
	sh.Sender = "a@x.com"
	f.repo.On("FindByToken", mock.Anything, testToken).Return(sh, nil)

	view, err := f.svc.Get(context.Background(), testToken)

	require.NoError(t, err)
	assert.Equal(t, &ShareView{
		UUID:         testToken,
		FileName:     "report.pdf",
		FileSize:     5500,
		Size:         "5.5 kB",
		ContentType:  "application/pdf",
		DownloadLink: testBaseURL + "/files/download/" + testToken,
		Sent:         true,
		ExpiresAt:    fixedNow.Add(23 * time.Hour),
	}, view)
}

func TestShareService_Get_Expired(t *testing.T) {
	f := newFixture(t)
	f.repo.On("FindByToken", mock.Anything, testToken).Return(nil, repository.ErrNotFound)

	view, err := f.svc.Get(context.Background(), testToken)

	assert.ErrorIs(t, err, ErrLinkExpired)
	assert.Nil(t, view)
}

func TestSizeKB(t *testing.T) {
	assert.Equal(t, "0 KB", sizeKB(999))
	assert.Equal(t, "5 KB", sizeKB(5500))
	assert.Equal(t, "100000 KB", sizeKB(100*1000*1000))
}

func TestExpiryNotice(t *testing.T) {
	assert.Equal(t, "24 hours", expiryNotice(24*time.Hour))
	assert.Equal(t, "1 hour", expiryNotice(time.Hour))
	assert.Equal(t, "90 minutes", expiryNotice(90*time.Minute))
	assert.Equal(t, "1m30s", expiryNotice(90*time.Second))
}
