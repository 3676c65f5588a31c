package document

import (
	"fmt"
	"log/slog"
	"strings"

	"go-mrz-scanner/models"
	"go-mrz-scanner/mrz"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/gmrtd/gmrtd/cms"
	"github.com/gmrtd/gmrtd/document"
	"github.com/gmrtd/gmrtd/passiveauth"
	"github.com/gmrtd/gmrtd/utils"
)

// NameSimilarityThreshold is the Jaro-Winkler similarity above which a
// scanned name is considered equal to the chip name.
const NameSimilarityThreshold = 0.9

// Name comparisons are reported per identifier.
const (
	FieldSurname    = "surname"
	FieldGivenNames = "givenNames"
)

// ParseChip builds a document from hex encoded data groups. DG1 is required,
// EF.SOD is only parsed when present.
func ParseChip(dataGroups map[string]string, efSOD string) (*document.Document, error) {
	if len(dataGroups) == 0 {
		return nil, fmt.Errorf("no data groups found")
	}

	var doc document.Document
	var err error
	for dg, hexVal := range dataGroups {
		dataGroupBytes := utils.HexToBytes(hexVal)
		switch dg {
		case "DG1":
			doc.Mf.Lds1.Dg1, err = document.NewDG1(dataGroupBytes)
			if err != nil {
				return nil, fmt.Errorf("failed to create DG1 (mandatory): %w", err)
			}
		case "DG2":
			doc.Mf.Lds1.Dg2, err = document.NewDG2(dataGroupBytes)
			if err != nil {
				slog.Info("Skipping DG2 due to parsing error", "error", err)
			}
		default:
			slog.Debug("Ignoring data group", "data_group", dg)
		}
	}
	if doc.Mf.Lds1.Dg1 == nil {
		return nil, fmt.Errorf("DG1 is mandatory but was not provided")
	}

	if efSOD != "" {
		doc.Mf.Lds1.Sod, err = document.NewSOD(utils.HexToBytes(efSOD))
		if err != nil {
			return nil, fmt.Errorf("failed to create SOD: %w", err)
		}
	}
	return &doc, nil
}

var passiveAuth = passiveauth.PassiveAuth

// PassiveAuthentication verifies the data group hashes against EF.SOD and
// the document signer against the CSCA pool.
func PassiveAuthentication(doc *document.Document, certPool cms.CertPool) error {
	if doc.Mf.Lds1.Sod == nil {
		return fmt.Errorf("EF_SOD is missing")
	}
	slog.Info("Starting passive authentication", "issuing_state", doc.Mf.Lds1.Dg1.Mrz.IssuingState)
	res, err := passiveAuth(doc, certPool)
	if err != nil {
		return fmt.Errorf("passive authentication failed: %w", err)
	}
	if res == nil || !res.Success {
		return fmt.Errorf("passive authentication failed")
	}
	return nil
}

// CrossCheck compares a scanned MRZ with the MRZ stored in the chip DG1.
// Names are compared fuzzily, all other fields exactly.
func CrossCheck(result *mrz.Result, doc *document.Document) models.CrossCheckResponse {
	chip := doc.Mf.Lds1.Dg1.Mrz

	var surname, given string
	if name, ok := result.Name(); ok {
		surname = name.Surname
		given = strings.Join(name.GivenNames, " ")
	}

	fields := []models.FieldComparison{
		exact(mrz.FieldDocumentCode, result.DocumentCode(), chip.DocumentCode),
		exact(mrz.FieldIssuingState, result.IssuingState(), chip.IssuingState),
		exact(mrz.FieldDocumentNumber, result.DocumentNumber(), chip.DocumentNumber),
		exact(mrz.FieldNationality, result.Nationality(), chip.Nationality),
		exact(mrz.FieldBirthDate, rawField(result, mrz.FieldBirthDate), chip.DateOfBirth),
		exact(mrz.FieldSex, result.Sex(), chip.Sex),
		exact(mrz.FieldExpiryDate, rawField(result, mrz.FieldExpiryDate), chip.DateOfExpiry),
		fuzzy(FieldSurname, surname, chip.NameOfHolder.Primary),
		fuzzy(FieldGivenNames, given, chip.NameOfHolder.Secondary),
	}

	match := true
	for _, f := range fields {
		match = match && f.Match
	}
	slog.Debug("Cross checked MRZ against DG1", "match", match)
	return models.CrossCheckResponse{Match: match, Fields: fields}
}

func rawField(result *mrz.Result, name string) string {
	f, ok := result.Field(name)
	if !ok {
		return ""
	}
	return f.Corrected
}

// canonical drops fillers and collapses whitespace so that "L898902C<" and
// "L898902C" compare equal.
func canonical(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(strings.ToUpper(s), "<", " ")), " ")
}

func exact(field, scanned, chip string) models.FieldComparison {
	return models.FieldComparison{
		Field:   field,
		Scanned: scanned,
		Chip:    chip,
		Match:   canonical(scanned) == canonical(chip),
	}
}

func fuzzy(field, scanned, chip string) models.FieldComparison {
	a, b := canonical(scanned), canonical(chip)
	similarity := 1.0
	if a != b {
		similarity = strutil.Similarity(a, b, metrics.NewJaroWinkler())
	}
	return models.FieldComparison{
		Field:      field,
		Scanned:    scanned,
		Chip:       chip,
		Match:      similarity >= NameSimilarityThreshold,
		Similarity: similarity,
	}
}
