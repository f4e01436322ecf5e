package followup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/adapters/ghl"
	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/locale"
	"github.com/katxuyu/voice-ai-agent/internal/notify"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"go.uber.org/zap"
)

// permanentFailureSignatures in an intake rejection mean the follow-up will
// never succeed and must be dropped rather than retried forever.
var permanentFailureSignatures = []string{
	"No sales representatives available",
	"not in right area",
	"Address is required",
	"service field is required",
}

// Sweeper periodically resubmits due follow-ups to the intake endpoint and
// cleans up entries that got stuck.
type Sweeper struct {
	repos     repository.RepositoryManager
	crm       *ghl.Client
	extractor *locale.Extractor
	notifier  *notify.Notifier

	intakeURL  string
	httpClient *http.Client
	interval   time.Duration
}

// NewSweeper creates the follow-up sweeper. intakeURL is the full internal
// URL of the outbound-call endpoint.
func NewSweeper(repos repository.RepositoryManager, crm *ghl.Client, extractor *locale.Extractor,
	notifier *notify.Notifier, intakeURL string) *Sweeper {
	return &Sweeper{
		repos:      repos,
		crm:        crm,
		extractor:  extractor,
		notifier:   notifier,
		intakeURL:  intakeURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		interval:   time.Hour,
	}
}

// Start runs the hourly sweep until ctx is canceled.
func (s *Sweeper) Start(ctx context.Context) {
	logger.Base().Info("follow-up sweeper started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Base().Info("follow-up sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup-and-resubmit pass. Exported for the forced-trigger
// endpoint.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	stuck, err := s.repos.FollowUps().Stuck(ctx, now)
	if err != nil {
		logger.Base().Error("stuck follow-up query failed", zap.Error(err))
	}
	for i := range stuck {
		fu := &stuck[i]
		if err := s.repos.FollowUps().Delete(ctx, fu.ID); err != nil {
			logger.Base().Error("failed to delete stuck follow-up", zap.Error(err))
			continue
		}
		s.notifier.Info(ctx, fmt.Sprintf("Follow-up bloccato rimosso (previsto %s)", fu.FollowUpAt.Format(time.RFC3339)),
			notify.Context{ContactID: fu.ContactID, Service: string(fu.Service), Province: fu.Province})
	}

	due, err := s.repos.FollowUps().Due(ctx, now)
	if err != nil {
		logger.Base().Error("due follow-up query failed", zap.Error(err))
		return
	}

	for i := range due {
		s.process(ctx, &due[i])
	}
}

func (s *Sweeper) process(ctx context.Context, fu *domain.FollowUp) {
	contact, err := s.crm.GetContact(ctx, fu.ContactID)
	if err != nil {
		logger.Base().Warn("follow-up contact fetch failed",
			zap.String("contact_id", fu.ContactID),
			zap.Error(err),
		)
		s.recordFailure(ctx, fu, fmt.Sprintf("contact fetch: %v", err))
		return
	}

	service := s.deriveService(fu, contact)
	if service == "" {
		s.dropPermanent(ctx, fu, "servizio non determinabile")
		return
	}
	province := s.deriveProvince(ctx, fu, contact)

	payload := map[string]interface{}{
		"phone":        contact.Phone,
		"contact_id":   fu.ContactID,
		"first_name":   contact.FirstName,
		"full_name":    strings.TrimSpace(contact.FirstName + " " + contact.LastName),
		"email":        contact.Email,
		"Service":      service,
		"full_address": contact.FullAddress(),
		"customData": map[string]interface{}{
			"isFollowUp":       true,
			"followUpProvince": province,
		},
	}

	status, body, err := s.postIntake(ctx, payload)
	if err != nil {
		s.recordFailure(ctx, fu, err.Error())
		return
	}

	switch {
	case status >= 200 && status < 300:
		if err := s.repos.FollowUps().Delete(ctx, fu.ID); err != nil {
			logger.Base().Error("failed to delete resubmitted follow-up", zap.Error(err))
		}
		logger.Base().Info("follow-up resubmitted",
			zap.Uint("follow_up_id", fu.ID),
			zap.String("contact_id", fu.ContactID),
		)
	case status >= 400 && status < 500 && isPermanentFailure(body):
		s.dropPermanent(ctx, fu, body)
	default:
		s.recordFailure(ctx, fu, fmt.Sprintf("intake status %d: %s", status, body))
	}
}

// deriveService resolves the service: the saved column first, then custom
// fields, then tags.
func (s *Sweeper) deriveService(fu *domain.FollowUp, contact *ghl.Contact) string {
	if domain.ValidService(string(fu.Service)) {
		return string(fu.Service)
	}
	for _, cf := range contact.CustomField {
		if v, ok := cf.Value.(string); ok && domain.ValidService(strings.TrimSpace(v)) {
			return strings.TrimSpace(v)
		}
	}
	for _, tag := range contact.Tags {
		for _, svc := range []string{"Infissi", "Vetrate", "Pergole"} {
			if strings.EqualFold(strings.TrimSpace(tag), svc) {
				return svc
			}
		}
	}
	return ""
}

// deriveProvince resolves the province: the saved column, the most recent
// prior call record, then a fresh address extraction.
func (s *Sweeper) deriveProvince(ctx context.Context, fu *domain.FollowUp, contact *ghl.Contact) string {
	if fu.Province != "" && fu.Province != locale.ProvinceUnknown {
		return fu.Province
	}
	if prov, err := s.repos.Calls().LatestProvinceForContact(ctx, fu.ContactID); err == nil && prov != "" && prov != locale.ProvinceUnknown {
		return prov
	}
	return s.extractor.Extract(ctx, contact.FullAddress())
}

func (s *Sweeper) postIntake(ctx context.Context, payload map[string]interface{}) (int, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.intakeURL, bytes.NewReader(data))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("intake resubmission failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(body), nil
}

func (s *Sweeper) recordFailure(ctx context.Context, fu *domain.FollowUp, reason string) {
	if err := s.repos.FollowUps().RecordFailure(ctx, fu.ID, reason); err != nil {
		logger.Base().Error("failed to record follow-up failure", zap.Error(err))
	}
}

func (s *Sweeper) dropPermanent(ctx context.Context, fu *domain.FollowUp, reason string) {
	if err := s.repos.FollowUps().Delete(ctx, fu.ID); err != nil {
		logger.Base().Error("failed to delete permanently failed follow-up", zap.Error(err))
		return
	}
	s.notifier.Info(ctx, fmt.Sprintf("Follow-up rimosso definitivamente: %s", truncate(reason, 200)),
		notify.Context{ContactID: fu.ContactID, Service: string(fu.Service), Province: fu.Province})
}

func isPermanentFailure(body string) bool {
	for _, sig := range permanentFailureSignatures {
		if strings.Contains(body, sig) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
