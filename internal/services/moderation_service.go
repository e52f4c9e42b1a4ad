package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/duetapp/duet-backend/internal/dto"
	"github.com/duetapp/duet-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrReportNotFound = errors.New("report not found")
	ErrAlreadyBlocked = errors.New("user already blocked")
	ErrSelfBlock      = errors.New("cannot block yourself")
)

var BannedWords = []string{
	"fuck", "fucking", "shit", "shitty", "bullshit",
	"asshole", "bastard", "bitch",
	"porn", "porno", "nude", "nudes",
	"spam", "scam", "scammer", "phishing", "escort",
	"venmo", "cashapp", "onlyfans",
}

// ModerationService screens profile free text (names, bios) and manages
// block/report records.
type ModerationService struct {
	db                  *gorm.DB
	bannedWordRegexps   []*regexp.Regexp
	urlPattern          *regexp.Regexp
	emailPattern        *regexp.Regexp
	phonePattern        *regexp.Regexp
	repeatedCharPattern *regexp.Regexp
	mu                  sync.RWMutex
}

func NewModerationService(db *gorm.DB) *ModerationService {
	ms := &ModerationService{db: db}
	ms.compilePatterns()
	return ms
}

func (ms *ModerationService) compilePatterns() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.bannedWordRegexps = make([]*regexp.Regexp, 0, len(BannedWords))
	for _, word := range BannedWords {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
		if err == nil {
			ms.bannedWordRegexps = append(ms.bannedWordRegexps, re)
		}
	}

	ms.urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+\.\S+)`)
	ms.emailPattern = regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
	ms.phonePattern = regexp.MustCompile(`\d{3}[-.\s]?\d{3}[-.\s]?\d{4}|\(\d{3}\)\s*\d{3}[-.\s]?\d{4}`)
	// Go's regexp (RE2) has no backreferences, so `([a-z!?.])\1{3,}` is
	// spelled out as an equivalent alternation of each character repeated 4+
	// times.
	ms.repeatedCharPattern = regexp.MustCompile(`(?i)(a{4,}|b{4,}|c{4,}|d{4,}|e{4,}|f{4,}|g{4,}|h{4,}|i{4,}|j{4,}|k{4,}|l{4,}|m{4,}|n{4,}|o{4,}|p{4,}|q{4,}|r{4,}|s{4,}|t{4,}|u{4,}|v{4,}|w{4,}|x{4,}|y{4,}|z{4,}|!{4,}|\?{4,}|\.{4,})`)
}

// FilterContent reports whether text is acceptable for a profile, and the
// rejection reason when it is not. Contact info is rejected so matches cannot
// be moved off-platform before a mutual like.
func (ms *ModerationService) FilterContent(text string) (bool, string) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if text == "" {
		return true, ""
	}
	for _, re := range ms.bannedWordRegexps {
		if re.MatchString(text) {
			return false, "inappropriate_language"
		}
	}
	if ms.urlPattern.MatchString(text) {
		return false, "url_not_allowed"
	}
	if ms.emailPattern.MatchString(text) || ms.phonePattern.MatchString(text) {
		return false, "contact_info_not_allowed"
	}
	if ms.repeatedCharPattern.MatchString(text) {
		return false, "spam_detected"
	}
	return true, ""
}

func (ms *ModerationService) GetRejectionMessage(reason string) string {
	messages := map[string]string{
		"inappropriate_language":   "Your profile contains inappropriate language.",
		"url_not_allowed":          "URLs and web links are not allowed in profiles.",
		"contact_info_not_allowed": "Contact information is not allowed in profiles.",
		"spam_detected":            "Your profile text appears to be spam.",
	}
	if msg, ok := messages[reason]; ok {
		return msg
	}
	return "Your profile does not meet our content guidelines."
}

func (s *ModerationService) CreateReport(reporterID string, req *dto.CreateReportRequest) (*models.Report, error) {
	validTypes := map[string]bool{"user": true, "photo": true, "bio": true}
	if !validTypes[req.ContentType] {
		return nil, errors.New("invalid content_type: must be user, photo, or bio")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, errors.New("reason is required")
	}

	report := models.Report{
		ID:          uuid.New(),
		ReporterID:  reporterID,
		ContentType: req.ContentType,
		ContentID:   req.ContentID,
		Reason:      req.Reason,
		Status:      "pending",
	}

	if err := s.db.Create(&report).Error; err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	return &report, nil
}

func (s *ModerationService) BlockUser(blockerID, blockedID string) error {
	if blockerID == blockedID {
		return ErrSelfBlock
	}

	var existing models.Block
	if err := s.db.Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).First(&existing).Error; err == nil {
		return ErrAlreadyBlocked
	}

	block := models.Block{
		ID:        uuid.New(),
		BlockerID: blockerID,
		BlockedID: blockedID,
	}
	return s.db.Create(&block).Error
}

func (s *ModerationService) UnblockUser(blockerID, blockedID string) error {
	return s.db.Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&models.Block{}).Error
}

func (s *ModerationService) GetBlockedIDs(userID string) ([]string, error) {
	var blocks []models.Block
	if err := s.db.Where("blocker_id = ?", userID).Find(&blocks).Error; err != nil {
		return nil, err
	}
	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.BlockedID
	}
	return ids, nil
}
