package service

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/ecommunity/internal/entity"
	"github.com/mbeoliero/ecommunity/pkg/errcode"
)

// RejectReason classifies why a file cannot be attached
type RejectReason string

const (
	RejectEmptyName RejectReason = "empty_name"
	RejectEmptyFile RejectReason = "empty_file"
	RejectTooLarge  RejectReason = "too_large"
	RejectMimeType  RejectReason = "mime_type"
	RejectTooMany   RejectReason = "too_many"
)

// Rejection is one failed attachment check
type Rejection struct {
	File   string       `json:"file,omitempty"`
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail"`
}

func (r Rejection) String() string {
	if r.File == "" {
		return r.Detail
	}
	return r.File + ": " + r.Detail
}

// AttachmentError lists every rejection of a send attempt
type AttachmentError struct {
	Rejections []Rejection
}

func (e *AttachmentError) Error() string {
	parts := make([]string, 0, len(e.Rejections))
	for _, r := range e.Rejections {
		parts = append(parts, r.String())
	}
	return errcode.ErrAttachmentRejected.Msg + ": " + strings.Join(parts, "; ")
}

func (e *AttachmentError) Unwrap() error {
	return errcode.ErrAttachmentRejected
}

// Data exposes the rejections to API responses
func (e *AttachmentError) Data() interface{} {
	return e.Rejections
}

// Has reports whether any rejection has reason
func (e *AttachmentError) Has(reason RejectReason) bool {
	for _, r := range e.Rejections {
		if r.Reason == reason {
			return true
		}
	}
	return false
}

// AttachmentPolicy bounds what may be attached to one message.
// AllowedMimeTypes entries may end in "/*"; an empty list allows every type.
type AttachmentPolicy struct {
	MaxSize          int64
	MaxCount         int
	AllowedMimeTypes []string
}

// AttachmentValidator checks local files before anything is sent
type AttachmentValidator struct {
	policy AttachmentPolicy
}

func NewAttachmentValidator(policy AttachmentPolicy) *AttachmentValidator {
	return &AttachmentValidator{policy: policy}
}

// Validate returns *AttachmentError with all rejections, or nil
func (v *AttachmentValidator) Validate(files []*entity.LocalFile) error {
	var rejections []Rejection

	if v.policy.MaxCount > 0 && len(files) > v.policy.MaxCount {
		rejections = append(rejections, Rejection{
			Reason: RejectTooMany,
			Detail: fmt.Sprintf("%d files attached, limit is %d", len(files), v.policy.MaxCount),
		})
	}

	for i, f := range files {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			rejections = append(rejections, Rejection{
				File:   fmt.Sprintf("#%d", i+1),
				Reason: RejectEmptyName,
				Detail: "file has no name",
			})
			name = fmt.Sprintf("#%d", i+1)
		}
		if f.Size <= 0 {
			rejections = append(rejections, Rejection{File: name, Reason: RejectEmptyFile, Detail: "file is empty"})
		} else if v.policy.MaxSize > 0 && f.Size > v.policy.MaxSize {
			rejections = append(rejections, Rejection{
				File:   name,
				Reason: RejectTooLarge,
				Detail: fmt.Sprintf("file is %s, limit is %s", humanize.IBytes(uint64(f.Size)), humanize.IBytes(uint64(v.policy.MaxSize))),
			})
		}
		if !v.mimeAllowed(f.MimeType) {
			rejections = append(rejections, Rejection{
				File:   name,
				Reason: RejectMimeType,
				Detail: fmt.Sprintf("type %q is not allowed", f.MimeType),
			})
		}
	}

	if len(rejections) == 0 {
		return nil
	}
	return &AttachmentError{Rejections: rejections}
}

func (v *AttachmentValidator) mimeAllowed(raw string) bool {
	if len(v.policy.AllowedMimeTypes) == 0 {
		return true
	}
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return false
	}
	for _, allowed := range v.policy.AllowedMimeTypes {
		allowed = strings.ToLower(allowed)
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok {
			if strings.HasPrefix(mt, prefix+"/") {
				return true
			}
			continue
		}
		if mt == allowed {
			return true
		}
	}
	return false
}

// AttachmentResolver turns storage paths into signed urls, through the cache when one is set
type AttachmentResolver struct {
	signer   URLSigner
	cache    URLCache
	expiry   time.Duration
	cacheTTL time.Duration
}

// NewAttachmentResolver creates a resolver; cache may be nil. cacheTTL is clamped below expiry.
func NewAttachmentResolver(signer URLSigner, cache URLCache, expiry, cacheTTL time.Duration) *AttachmentResolver {
	if expiry <= 0 {
		expiry = time.Hour
	}
	if cacheTTL <= 0 || cacheTTL >= expiry {
		cacheTTL = expiry * 11 / 12
	}
	return &AttachmentResolver{signer: signer, cache: cache, expiry: expiry, cacheTTL: cacheTTL}
}

// Resolve returns a signed url for path
func (r *AttachmentResolver) Resolve(ctx context.Context, path string) (string, error) {
	if r.cache != nil {
		url, ok, err := r.cache.Get(ctx, path)
		if err != nil {
			log.CtxWarn(ctx, "signed url cache get failed: path=%s, error=%v", path, err)
		} else if ok {
			return url, nil
		}
	}

	if r.signer == nil {
		return "", fmt.Errorf("no url signer configured")
	}
	url, err := r.signer.CreateSignedURL(ctx, path, r.expiry)
	if err != nil {
		return "", err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, path, url, r.cacheTTL); err != nil {
			log.CtxWarn(ctx, "signed url cache set failed: path=%s, error=%v", path, err)
		}
	}
	return url, nil
}
