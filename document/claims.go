package document

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"go-mrz-scanner/models"
	"go-mrz-scanner/mrz"
)

var (
	ErrInvalidMrz       = errors.New("MRZ check digits do not validate")
	ErrMissingBirthDate = errors.New("MRZ has no readable date of birth")
)

const DATE_FORMAT_YEAR = "2006"

// ToMrzData derives credential attributes from a parsed MRZ. Only results
// whose check digits all pass are accepted.
func ToMrzData(result *mrz.Result, now time.Time) (models.MrzData, error) {
	slog.Debug("Converting MRZ to credential attributes", "format", result.Format)

	if !result.AllCheckDigitsValid {
		return models.MrzData{}, ErrInvalidMrz
	}
	birth, ok := result.BirthDate()
	if !ok {
		return models.MrzData{}, ErrMissingBirthDate
	}
	dob := birth.Time()

	data := models.MrzData{
		DocumentNumber: result.DocumentNumber(),
		DocumentType:   result.DocumentCode(),
		Nationality:    result.Nationality(),
		IsEuCitizen:    BoolToYesNo(IsEuCitizen(result.Nationality())),
		DateOfBirth:    dob,
		YearOfBirth:    dob.Format(DATE_FORMAT_YEAR),
		Gender:         result.Sex(),
		Country:        result.IssuingState(),
		Over12:         BoolToYesNo(isOlderThan(dob, now, 12)),
		Over16:         BoolToYesNo(isOlderThan(dob, now, 16)),
		Over18:         BoolToYesNo(isOlderThan(dob, now, 18)),
		Over21:         BoolToYesNo(isOlderThan(dob, now, 21)),
		Over65:         BoolToYesNo(isOlderThan(dob, now, 65)),
	}

	if name, ok := result.Name(); ok {
		data.LastName = name.Surname
		data.FirstName = strings.Join(name.GivenNames, " ")
	}
	if expiry, ok := result.ExpiryDate(); ok {
		data.DateOfExpiry = expiry.Time()
		data.IsExpired = BoolToYesNo(expiry.Time().Before(now))
	}

	return data, nil
}
