package file

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"
	"unicode/utf8"

	common_models "go-evidence/internal/common/models"
	"go-evidence/internal/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

type RejectionReason string

const (
	ReasonTooLarge         RejectionReason = "too_large"
	ReasonDangerousType    RejectionReason = "dangerous_type"
	ReasonDisallowedType   RejectionReason = "disallowed_type"
	ReasonMimeMismatch     RejectionReason = "mime_mismatch"
	ReasonMaliciousContent RejectionReason = "malicious_content"
	ReasonNameTooLong      RejectionReason = "name_too_long"
)

// IsSecurity reports whether the reason must be recorded as a security event.
func (r RejectionReason) IsSecurity() bool {
	return r == ReasonDangerousType || r == ReasonMaliciousContent
}

type Rejection struct {
	Reason  RejectionReason `json:"reason"`
	Message string          `json:"message"`

	rule string
}

type ValidationResult struct {
	Accepted   bool        `json:"accepted"`
	Rejections []Rejection `json:"rejections,omitempty"`
}

func (r *ValidationResult) Reasons() []RejectionReason {
	out := make([]RejectionReason, 0, len(r.Rejections))
	for _, rej := range r.Rejections {
		out = append(out, rej.Reason)
	}
	return out
}

func (r *ValidationResult) Has(reason RejectionReason) bool {
	for _, rej := range r.Rejections {
		if rej.Reason == reason {
			return true
		}
	}
	return false
}

// SecurityAuditor receives security events. A failed write must be reported.
type SecurityAuditor interface {
	LogSecurityEvent(ctx context.Context, event common_models.SecurityEvent) error
}

type signature struct {
	rule string
	re   *regexp.Regexp
}

var contentSignatures = []signature{
	{rule: "script_tag", re: regexp.MustCompile(`(?i)<\s*script`)},
	{rule: "inline_event_handler", re: regexp.MustCompile(`(?i)<[^>]*\bon[a-z]+\s*=`)},
	{rule: "javascript_scheme", re: regexp.MustCompile(`(?i)javascript\s*:`)},
	{rule: "vbscript_scheme", re: regexp.MustCompile(`(?i)vbscript\s*:`)},
	{rule: "eval_call", re: regexp.MustCompile(`(?i)\beval\s*\(`)},
	{rule: "exec_call", re: regexp.MustCompile(`(?i)\bexec\s*\(`)},
}

// MatchContentSignature returns the first signature rule matching data.
func MatchContentSignature(data []byte) (string, bool) {
	for _, sig := range contentSignatures {
		if sig.re.Match(data) {
			return sig.rule, true
		}
	}
	return "", false
}

var (
	validationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_upload_validations_total",
		Help: "Upload validation decisions by result.",
	}, []string{"result"})
	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_upload_rejections_total",
		Help: "Upload rejections by reason.",
	}, []string{"reason"})
)

type ValidatorOptions struct {
	MaxSize       int64
	MaxNameLength int
}

// Validator runs every upload check and collects all failures.
type Validator struct {
	opts    ValidatorOptions
	auditor SecurityAuditor
	log     *zap.Logger
	now     func() time.Time
}

func NewValidator(opts ValidatorOptions, auditor SecurityAuditor, log *zap.Logger) *Validator {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 50 << 20
	}
	if opts.MaxNameLength <= 0 {
		opts.MaxNameLength = 255
	}
	return &Validator{
		opts:    opts,
		auditor: auditor,
		log:     log.With(zap.String("component", "validation")),
		now:     time.Now,
	}
}

// NewConfiguredValidator reads the upload limits from config.
func NewConfiguredValidator(cfg *config.Config, auditor SecurityAuditor, log *zap.Logger) *Validator {
	return NewValidator(ValidatorOptions{
		MaxSize:       cfg.MaxUploadSize,
		MaxNameLength: cfg.MaxNameLength,
	}, auditor, log)
}

// Validate never short-circuits. The returned error is only set when the
// source cannot be read or a security event could not be recorded; the
// result is still returned in the latter case.
func (v *Validator) Validate(ctx context.Context, src Source, actor Actor) (*ValidationResult, error) {
	name := src.Name()
	ext := ExtensionOf(name)
	res := &ValidationResult{}

	reject := func(reason RejectionReason, msg, rule string) {
		res.Rejections = append(res.Rejections, Rejection{Reason: reason, Message: msg, rule: rule})
	}

	if src.Size() > v.opts.MaxSize {
		reject(ReasonTooLarge, tooLargeMessage(v.opts.MaxSize), "")
	}

	switch {
	case IsDangerousExtension(ext):
		reject(ReasonDangerousType, "files of this type are not permitted for security reasons", "dangerous_extension:"+ext)
	case !IsAllowedExtension(ext):
		reject(ReasonDisallowedType, fmt.Sprintf("file type %q is not allowed", ext), "")
	}

	if !mimeMatches(ext, src.MimeType()) {
		reject(ReasonMimeMismatch, "declared content type does not match the file extension", "")
	}

	if TextScannedExtension(ext) {
		rule, err := v.scanContent(src)
		if err != nil {
			return nil, err
		}
		if rule != "" {
			reject(ReasonMaliciousContent, "file content failed the security scan", rule)
		}
	}

	if utf8.RuneCountInString(name) > v.opts.MaxNameLength {
		reject(ReasonNameTooLong, fmt.Sprintf("file name exceeds %d characters", v.opts.MaxNameLength), "")
	}

	res.Accepted = len(res.Rejections) == 0
	if res.Accepted {
		validationsTotal.WithLabelValues("accepted").Inc()
		return res, nil
	}

	validationsTotal.WithLabelValues("rejected").Inc()
	for _, r := range res.Rejections {
		rejectionsTotal.WithLabelValues(string(r.Reason)).Inc()
	}

	if err := v.audit(ctx, src, actor, res); err != nil {
		return res, err
	}

	v.log.Info("Upload rejected",
		zap.String("file_name", name),
		zap.String("actor", actor.UserID),
		zap.Any("reasons", res.Reasons()),
	)
	return res, nil
}

// scanContent reads at most MaxSize bytes.
func (v *Validator) scanContent(src Source) (string, error) {
	rc, err := src.Open()
	if err != nil {
		return "", fmt.Errorf("open upload for scanning: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, v.opts.MaxSize))
	if err != nil {
		return "", fmt.Errorf("read upload for scanning: %w", err)
	}
	rule, _ := MatchContentSignature(data)
	return rule, nil
}

func (v *Validator) audit(ctx context.Context, src Source, actor Actor, res *ValidationResult) error {
	for _, r := range res.Rejections {
		if !r.Reason.IsSecurity() {
			continue
		}
		event := common_models.SecurityEvent{
			ActorID:    actor.UserID,
			SourceAddr: actor.SourceAddr,
			Reason:     string(r.Reason),
			Rule:       r.rule,
			FileName:   src.Name(),
			Timestamp:  v.now().UTC(),
		}
		if err := v.auditor.LogSecurityEvent(ctx, event); err != nil {
			v.log.Error("Failed to record security event",
				zap.String("file_name", src.Name()),
				zap.String("reason", string(r.Reason)),
				zap.Error(err),
			)
			return fmt.Errorf("record security event: %w", err)
		}
	}
	return nil
}

func tooLargeMessage(maxSize int64) string {
	return fmt.Sprintf("file exceeds the maximum size of %d MB", maxSize>>20)
}

// NewTooLargeError rejects an upload refused before validation could run,
// such as a request body over the HTTP limit.
func NewTooLargeError(maxSize int64) *RejectionError {
	rejectionsTotal.WithLabelValues(string(ReasonTooLarge)).Inc()
	return &RejectionError{Result: &ValidationResult{
		Rejections: []Rejection{{Reason: ReasonTooLarge, Message: tooLargeMessage(maxSize)}},
	}}
}
