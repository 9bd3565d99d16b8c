package indicators

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"kmc-indicators/internal/bucket"
)

// ErrUnknownSetting is returned for configuration keys the engine does not recognize.
var ErrUnknownSetting = errors.New("unknown setting")

// Recognized setting keys.
const (
	KeyNormothermiaMin          = "normothermia_min_c"
	KeyNormothermiaMax          = "normothermia_max_c"
	KeyDailyKMCTarget           = "daily_kmc_target_minutes"
	KeyExpectedFeeds            = "expected_feeds_per_day"
	KeyEligibilityWeight        = "eligibility_birth_weight_grams"
	KeyEligibilityGestation     = "eligibility_gestational_weeks"
	KeyNeonatalPeriod           = "neonatal_period_days"
	KeyDefaultUTCOffset         = "default_utc_offset_minutes"
	KeyHospitalUTCOffsetPrefix  = "hospital_utc_offset_minutes."
	KeyExcludeDeletionRequested = "exclude_deletion_requested"
)

// Settings are the caller-owned thresholds.
type Settings struct {
	NormothermiaMinC          float64
	NormothermiaMaxC          float64
	DailyKMCTargetMinutes     float64
	ExpectedFeedsPerDay       float64
	EligibilityWeightGrams    float64
	EligibilityGestationWeeks float64
	NeonatalPeriodDays        int
	DefaultUTCOffsetMinutes   int
	HospitalUTCOffsetMinutes  map[string]int
	ExcludeDeletionRequested  bool
}

// DefaultSettings returns the program defaults.
func DefaultSettings() Settings {
	return Settings{
		NormothermiaMinC:          36.5,
		NormothermiaMaxC:          37.5,
		DailyKMCTargetMinutes:     720,
		ExpectedFeedsPerDay:       8,
		EligibilityWeightGrams:    2500,
		EligibilityGestationWeeks: 36,
		NeonatalPeriodDays:        28,
		DefaultUTCOffsetMinutes:   330,
		HospitalUTCOffsetMinutes:  map[string]int{},
	}
}

// ParseSettings overlays raw key/value pairs on the defaults.
func ParseSettings(raw map[string]string) (Settings, error) {
	s := DefaultSettings()
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := strings.TrimSpace(raw[key])
		var err error
		switch key {
		case KeyNormothermiaMin:
			s.NormothermiaMinC, err = parseFloat(val)
		case KeyNormothermiaMax:
			s.NormothermiaMaxC, err = parseFloat(val)
		case KeyDailyKMCTarget:
			s.DailyKMCTargetMinutes, err = parsePositive(val)
		case KeyExpectedFeeds:
			s.ExpectedFeedsPerDay, err = parsePositive(val)
		case KeyEligibilityWeight:
			s.EligibilityWeightGrams, err = parseFloat(val)
		case KeyEligibilityGestation:
			s.EligibilityGestationWeeks, err = parseFloat(val)
		case KeyNeonatalPeriod:
			s.NeonatalPeriodDays, err = strconv.Atoi(val)
		case KeyDefaultUTCOffset:
			s.DefaultUTCOffsetMinutes, err = parseOffset(val)
		case KeyExcludeDeletionRequested:
			s.ExcludeDeletionRequested, err = strconv.ParseBool(val)
		default:
			id, ok := strings.CutPrefix(key, KeyHospitalUTCOffsetPrefix)
			if !ok || id == "" {
				return Settings{}, fmt.Errorf("%w: %s", ErrUnknownSetting, key)
			}
			var off int
			off, err = parseOffset(val)
			s.HospitalUTCOffsetMinutes[id] = off
		}
		if err != nil {
			return Settings{}, fmt.Errorf("invalid value %q for %s: %w", val, key, err)
		}
	}
	if s.NormothermiaMinC > s.NormothermiaMaxC {
		return Settings{}, fmt.Errorf("%s (%v) exceeds %s (%v)", KeyNormothermiaMin, s.NormothermiaMinC, KeyNormothermiaMax, s.NormothermiaMaxC)
	}
	return s, nil
}

func parseFloat(v string) (float64, error) {
	return strconv.ParseFloat(v, 64)
}

func parsePositive(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, errors.New("must be positive")
	}
	return f, nil
}

func parseOffset(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < -14*60 || n > 14*60 {
		return 0, errors.New("offset out of range")
	}
	return n, nil
}

// OffsetMinutes resolves a hospital's UTC offset: explicit setting, then the
// hospital document's own value, then the default.
func (s Settings) OffsetMinutes(hospitalID string, documentOffset *int) int {
	if off, ok := s.HospitalUTCOffsetMinutes[hospitalID]; ok {
		return off
	}
	if documentOffset != nil {
		return *documentOffset
	}
	return s.DefaultUTCOffsetMinutes
}

// Zone is OffsetMinutes as a fixed location.
func (s Settings) Zone(hospitalID string, documentOffset *int) *time.Location {
	return bucket.FixedZone(s.OffsetMinutes(hospitalID, documentOffset))
}

// Hash is a stable digest of every value, used in cache keys.
func (s Settings) Hash() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%g|%g|%g|%g|%g|%g|%d|%d|%t",
		s.NormothermiaMinC, s.NormothermiaMaxC, s.DailyKMCTargetMinutes, s.ExpectedFeedsPerDay,
		s.EligibilityWeightGrams, s.EligibilityGestationWeeks, s.NeonatalPeriodDays,
		s.DefaultUTCOffsetMinutes, s.ExcludeDeletionRequested)
	ids := make([]string, 0, len(s.HospitalUTCOffsetMinutes))
	for id := range s.HospitalUTCOffsetMinutes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "|%s=%d", id, s.HospitalUTCOffsetMinutes[id])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
