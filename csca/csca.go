// Package csca loads the country signing CA certificates used for passive
// authentication of document chips.
package csca

import (
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gmrtd/gmrtd/cms"
	"github.com/go-ldap/ldif"
	"go.mozilla.org/pkcs7"
)

const (
	ldifCertificateAttr = "userCertificate;binary"
	ldifMasterListAttr  = "CscaMasterListData"
)

// masterList is the eContent of an ICAO CSCA master list.
type masterList struct {
	Version      int
	Certificates []asn1.RawValue `asn1:"set"`
}

// LoadCertPool reads CSCA certificates from path. The format follows the
// extension: PEM (.pem), ICAO master lists (.mls), PKD exports (.ldif) or
// single DER certificates (anything else).
func LoadCertPool(path string) (*cms.GenericCertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cert file: %w", err)
	}

	var certs [][]byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pem":
		certs, err = ParsePEM(data)
	case ".mls":
		certs, err = ParseMasterList(data)
	case ".ldif":
		certs, err = ParseLDIF(string(data))
	default:
		certs = [][]byte{data}
	}
	if err != nil {
		return nil, err
	}

	pool := &cms.GenericCertPool{}
	for i, der := range certs {
		if err := pool.Add(der); err != nil {
			return nil, fmt.Errorf("failed to add certificate %d: %w", i, err)
		}
	}
	slog.Info("Loaded CSCA certificates", "path", path, "count", len(certs))
	return pool, nil
}

func ParsePEM(data []byte) ([][]byte, error) {
	var certs [][]byte
	for block, rest := pem.Decode(data); block != nil; block, rest = pem.Decode(rest) {
		certs = append(certs, block.Bytes)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	return certs, nil
}

// ParseMasterList extracts the certificates listed in a signed CSCA master
// list. The signature itself is not verified.
func ParseMasterList(data []byte) ([][]byte, error) {
	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse master list signed data: %w", err)
	}
	if len(p7.Content) == 0 {
		return nil, fmt.Errorf("no eContent found in master list")
	}

	var ml masterList
	if _, err := asn1.Unmarshal(p7.Content, &ml); err != nil {
		return nil, fmt.Errorf("failed to parse master list: %w", err)
	}

	certs := make([][]byte, 0, len(ml.Certificates))
	for _, c := range ml.Certificates {
		certs = append(certs, c.FullBytes)
	}
	return certs, nil
}

// ParseLDIF collects the certificates of an ICAO PKD LDIF export, both
// single CSCA entries and embedded master lists.
func ParseLDIF(content string) ([][]byte, error) {
	parsed, err := ldif.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse LDIF: %w", err)
	}

	var certs [][]byte
	for _, entry := range parsed.Entries {
		if entry == nil || entry.Entry == nil {
			continue
		}
		for _, attr := range entry.Entry.Attributes {
			switch {
			case attr.Name == ldifCertificateAttr:
				certs = append(certs, attr.ByteValues...)
			case strings.HasPrefix(attr.Name, ldifMasterListAttr):
				for _, v := range attr.ByteValues {
					listed, err := ParseMasterList(v)
					if err != nil {
						slog.Warn("Skipping master list in LDIF entry", "dn", entry.Entry.DN, "error", err)
						continue
					}
					certs = append(certs, listed...)
				}
			}
		}
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates found in LDIF")
	}
	return certs, nil
}
