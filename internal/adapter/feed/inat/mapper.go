package inat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
)

// observationPayload mirrors the subset of the feed JSON that maps into
// typed columns. Everything else stays in the verbatim raw copy.
type observationPayload struct {
	ID                 int64             `json:"id"`
	QualityGrade       *string           `json:"quality_grade"`
	Captive            *bool             `json:"captive"`
	LicenseCode        *string           `json:"license_code"`
	TimeObservedAt     *string           `json:"time_observed_at"`
	ObservedOn         *string           `json:"observed_on"`
	CreatedAt          *string           `json:"created_at"`
	UpdatedAt          *string           `json:"updated_at"`
	Location           *string           `json:"location"`
	PositionalAccuracy *int64            `json:"positional_accuracy"`
	PlaceGuess         *string           `json:"place_guess"`
	Description        *string           `json:"description"`
	Taxon              *taxonPayload     `json:"taxon"`
	User               *userPayload      `json:"user"`
	Photos             []json.RawMessage `json:"photos"`
}

type taxonPayload struct {
	ID                  *int64  `json:"id"`
	Name                *string `json:"name"`
	PreferredCommonName *string `json:"preferred_common_name"`
}

type userPayload struct {
	ID    *int64  `json:"id"`
	Login *string `json:"login"`
}

type photoPayload struct {
	ID          int64   `json:"id"`
	URL         *string `json:"url"`
	OriginalURL *string `json:"original_url"`
	LicenseCode *string `json:"license_code"`
	Attribution *string `json:"attribution"`
}

// MapRecord translates one verbatim feed observation into a domain record
// with its photos in feed order. Pure; no I/O.
func MapRecord(raw json.RawMessage) (domain.ObservationRecord, error) {
	var p observationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.ObservationRecord{}, fmt.Errorf("op=inat.MapRecord: %w", err)
	}
	if p.ID == 0 {
		return domain.ObservationRecord{}, fmt.Errorf("op=inat.MapRecord: missing observation id: %w", domain.ErrInvalidArgument)
	}

	obs := domain.Observation{
		ObservationID:      p.ID,
		InatURL:            "https://www.inaturalist.org/observations/" + strconv.FormatInt(p.ID, 10),
		QualityGrade:       p.QualityGrade,
		Captive:            p.Captive,
		LicenseCode:        p.LicenseCode,
		ObservedAt:         parseTimestamp(p.TimeObservedAt),
		ObservedOn:         parseDate(p.ObservedOn),
		CreatedAt:          parseTimestamp(p.CreatedAt),
		UpdatedAt:          parseTimestamp(p.UpdatedAt),
		PositionalAccuracy: p.PositionalAccuracy,
		PlaceGuess:         p.PlaceGuess,
		Description:        p.Description,
		Raw:                raw,
	}
	if p.Taxon != nil {
		obs.TaxonID = p.Taxon.ID
		obs.TaxonName = p.Taxon.Name
		obs.TaxonCommonName = p.Taxon.PreferredCommonName
	}
	if p.User != nil {
		obs.UserID = p.User.ID
		obs.UserLogin = p.User.Login
	}
	obs.Latitude, obs.Longitude = parseLocation(p.Location)

	photos := make([]domain.Photo, 0, len(p.Photos))
	for i, rawPhoto := range p.Photos {
		photo, err := MapPhoto(p.ID, i, rawPhoto)
		if err != nil {
			return domain.ObservationRecord{}, err
		}
		photos = append(photos, photo)
	}
	return domain.ObservationRecord{Observation: obs, Photos: photos}, nil
}

// MapPhoto translates one verbatim photo payload owned by observationID at
// the given ordinal position.
func MapPhoto(observationID int64, position int, raw json.RawMessage) (domain.Photo, error) {
	var p photoPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Photo{}, fmt.Errorf("op=inat.MapPhoto: %w", err)
	}
	if p.ID == 0 {
		return domain.Photo{}, fmt.Errorf("op=inat.MapPhoto: missing photo id: %w", domain.ErrInvalidArgument)
	}
	square, large, original := PhotoURLVariants(p.URL, p.OriginalURL)
	return domain.Photo{
		PhotoID:       p.ID,
		ObservationID: observationID,
		Position:      position,
		URLSquare:     square,
		URLLarge:      large,
		URLOriginal:   original,
		LicenseCode:   p.LicenseCode,
		Attribution:   p.Attribution,
		Raw:           raw,
	}, nil
}

// PhotoURLVariants derives the three URL variants from the feed's thumbnail
// URL. The large variant substitutes "large." for the "square." path
// segment; the original URL is either provided by the feed or guessed from
// the open-data pattern, best effort.
func PhotoURLVariants(squareURL, originalURL *string) (square, large, original *string) {
	square = squareURL
	original = originalURL

	if square != nil && strings.Contains(*square, "square.") {
		l := strings.Replace(*square, "/square.", "/large.", 1)
		large = &l
	}

	// Common pattern: .../photos/<id>/square.jpg -> .../photos/<id>/original.jpeg
	if original == nil && square != nil && strings.Contains(*square, "/photos/") {
		guess := strings.Replace(*square, "/square.jpg", "/original.jpeg", 1)
		if guess != *square {
			original = &guess
		}
	}
	return square, large, original
}

// parseTimestamp accepts ISO-8601 with offset or trailing Z.
func parseTimestamp(value *string) *time.Time {
	if value == nil || *value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *value)
	if err != nil {
		return nil
	}
	return &t
}

func parseDate(value *string) *time.Time {
	if value == nil || *value == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", *value)
	if err != nil {
		return nil
	}
	return &t
}

// parseLocation splits a "lat,lon" string into floats, both or neither.
func parseLocation(value *string) (lat, lon *float64) {
	if value == nil {
		return nil, nil
	}
	parts := strings.SplitN(*value, ",", 2)
	if len(parts) != 2 {
		return nil, nil
	}
	la, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lo, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return nil, nil
	}
	return &la, &lo
}
