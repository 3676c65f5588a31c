package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-mrz-scanner/models"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

// writeTestKey generates an RSA key pair and writes the private key as PEM.
func writeTestKey(t *testing.T) (string, *rsa.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "priv.pem")
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path, &key.PublicKey
}

func testMrzData() models.MrzData {
	return models.MrzData{
		DocumentNumber: "L898902C",
		DocumentType:   "P",
		FirstName:      "ANNA MARIA",
		LastName:       "ERIKSSON",
		Nationality:    "NLD",
		IsEuCitizen:    "Yes",
		DateOfBirth:    time.Date(1969, time.August, 6, 0, 0, 0, 0, time.UTC),
		YearOfBirth:    "1969",
		DateOfExpiry:   time.Date(2031, time.June, 23, 0, 0, 0, 0, time.UTC),
		Gender:         "F",
		Country:        "NLD",
		Over12:         "Yes",
		Over16:         "Yes",
		Over18:         "Yes",
		Over21:         "Yes",
		Over65:         "No",
		IsExpired:      "No",
	}
}

func keyFunc(pub *rsa.PublicKey) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Header["alg"])
		}
		return pub, nil
	}
}

func TestDecodeValidateJwt(t *testing.T) {
	keyPath, pub := writeTestKey(t)
	jc, err := NewIrmaJwtCreator(keyPath, "mrz_issuer", "pbdf-staging.pbdf.mrz", 25)
	require.NoError(t, err)

	tokenString, err := jc.CreateMrzJwt(testMrzData())
	require.NoError(t, err)
	require.NotEmpty(t, tokenString)

	parsedJWT, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, keyFunc(pub))
	require.NoError(t, err)
	require.True(t, parsedJWT.Valid)

	claims, ok := parsedJWT.Claims.(jwt.MapClaims)
	require.True(t, ok)
	require.Equal(t, "mrz_issuer", claims["iss"])
}

func TestDecodeJwt_WrongKey(t *testing.T) {
	keyPath, _ := writeTestKey(t)
	_, otherPub := writeTestKey(t)

	jc, err := NewIrmaJwtCreator(keyPath, "mrz_issuer", "pbdf-staging.pbdf.mrz", 25)
	require.NoError(t, err)
	tokenString, err := jc.CreateMrzJwt(testMrzData())
	require.NoError(t, err)

	_, err = jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, keyFunc(otherPub))
	require.Error(t, err)
}

func TestMrzAttributes(t *testing.T) {
	attrs := mrzAttributes(testMrzData())

	require.Equal(t, "L898902C", attrs["documentNumber"])
	require.Equal(t, "1969-08-06", attrs["dateOfBirth"])
	require.Equal(t, "2031-06-23", attrs["dateOfExpiry"])
	require.Equal(t, "1969", attrs["yearOfBirth"])
	require.Equal(t, "Yes", attrs["isEuCitizen"])
	require.Equal(t, "No", attrs["over65"])
	require.NotContains(t, attrs, "photo")
}

func TestBatchSizeConfiguration(t *testing.T) {
	keyPath, pub := writeTestKey(t)

	for _, batchSize := range []uint{1, 10, 25, 50, 100} {
		t.Run(fmt.Sprintf("batch size %d", batchSize), func(t *testing.T) {
			jc, err := NewIrmaJwtCreator(keyPath, "mrz_issuer", "pbdf-staging.pbdf.mrz", batchSize)
			require.NoError(t, err)
			require.Equal(t, batchSize, jc.sdJwtBatchSize)

			issuanceReq := jc.createIssuanceRequest(mrzAttributes(testMrzData()))
			require.Len(t, issuanceReq.Credentials, 1, "Should have exactly one credential request")
			require.Equal(t, batchSize, issuanceReq.Credentials[0].SdJwtBatchSize)
			require.Equal(t, "L898902C", issuanceReq.Credentials[0].Attributes["documentNumber"])

			jwtString, err := jc.CreateMrzJwt(testMrzData())
			require.NoError(t, err)
			parsedJWT, err := jwt.ParseWithClaims(jwtString, jwt.MapClaims{}, keyFunc(pub))
			require.NoError(t, err)
			require.True(t, parsedJWT.Valid)
		})
	}
}

func TestNewIrmaJwtCreator_ErrorCases(t *testing.T) {
	t.Run("file not found", func(t *testing.T) {
		_, err := NewIrmaJwtCreator(filepath.Join(t.TempDir(), "nonexistent.pem"), "issuer", "credential", 25)
		require.Error(t, err)
	})

	t.Run("invalid PEM format", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "invalid.pem")
		require.NoError(t, os.WriteFile(path, []byte("this is not a valid PEM file"), 0o600))

		_, err := NewIrmaJwtCreator(path, "issuer", "credential", 25)
		require.Error(t, err)
	})
}
