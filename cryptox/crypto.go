// Copyright 2017 Aleksey Blinov. All rights reserved.

// Package cryptox loads the TLS credentials used to authenticate with APN
// service: client certificate and key pairs in PEM or PKCS#12 form, and CA
// bundles for the trust store.
package cryptox

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io/ioutil"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

var (
	ErrPEMMissingPrivateKey   = errors.New("PEM: private key not found")
	ErrPEMMissingCertificate  = errors.New("PEM: certificate not found")
	ErrPEMBadPrivateKeyFormat = errors.New("PEM: private key is in neither PKCS#1 nor PKCS#8 format")
)

// ClientCertFromFiles loads a client certificate from certFile and its
// private key from keyFile and returns a tls.Certificate.
//
// If certFile has a .p12 or .pfx extension it is decoded as a PKCS#12
// bundle and keyFile is ignored. If keyFile is empty, certFile must be a
// combined PEM file carrying both the certificate and the key, which is
// common with exported APNs credentials.
//
// Use "" as the password argument if the credential is not password
// protected.
func ClientCertFromFiles(certFile, keyFile, password string) (tls.Certificate, error) {
	if strings.HasSuffix(certFile, ".p12") || strings.HasSuffix(certFile, ".pfx") {
		return ClientCertFromP12File(certFile, password)
	}
	bytes, err := ioutil.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	if keyFile != "" && keyFile != certFile {
		kbytes, err := ioutil.ReadFile(keyFile)
		if err != nil {
			return tls.Certificate{}, err
		}
		bytes = append(bytes, '\n')
		bytes = append(bytes, kbytes...)
	}
	return ClientCertFromPemBytes(bytes, password)
}

// ClientCertFromP12File loads a PKCS#12 bundle from a local file and
// returns a tls.Certificate.
func ClientCertFromP12File(filename string, password string) (tls.Certificate, error) {
	p12bytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return tls.Certificate{}, err
	}
	return ClientCertFromP12Bytes(p12bytes, password)
}

// ClientCertFromP12Bytes loads a PKCS#12 bundle from an in-memory byte
// slice and returns a tls.Certificate.
func ClientCertFromP12Bytes(bytes []byte, password string) (tls.Certificate, error) {
	key, cert, err := pkcs12.Decode(bytes, password)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

// ClientCertFromPemBytes loads a PEM certificate from an in-memory byte
// slice and returns a tls.Certificate. This function is similar to the
// crypto/tls X509KeyPair function, however it supports PEM input with the
// cert and key combined, as well as password protected keys, which are
// both common with APNs certificates.
func ClientCertFromPemBytes(bytes []byte, password string) (tls.Certificate, error) {
	var cert tls.Certificate
	var block *pem.Block
	for {
		block, bytes = pem.Decode(bytes)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert.Certificate = append(cert.Certificate, block.Bytes)
		}
		if strings.HasSuffix(block.Type, "PRIVATE KEY") {
			key, err := decryptPrivateKey(block, password)
			if err != nil {
				return tls.Certificate{}, err
			}
			cert.PrivateKey = key
		}
	}
	if len(cert.Certificate) == 0 {
		return tls.Certificate{}, ErrPEMMissingCertificate
	}
	if cert.PrivateKey == nil {
		return tls.Certificate{}, ErrPEMMissingPrivateKey
	}
	if c, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
		cert.Leaf = c
	}
	return cert, nil
}

// TrustPoolFromPemFile loads one or more PEM CA certificates from a local
// file and returns them as an x509.CertPool for use as trust anchors.
func TrustPoolFromPemFile(filename string) (*x509.CertPool, error) {
	bytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return TrustPoolFromPemBytes(bytes)
}

// TrustPoolFromPemBytes loads PEM CA certificates from an in-memory byte
// slice and returns them as an x509.CertPool.
func TrustPoolFromPemBytes(bytes []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(bytes) {
		return nil, ErrPEMMissingCertificate
	}
	return pool, nil
}

// SystemTrustPool returns the system certificate pool.
func SystemTrustPool() (*x509.CertPool, error) {
	return x509.SystemCertPool()
}

func decryptPrivateKey(block *pem.Block, password string) (crypto.PrivateKey, error) {
	bytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) {
		var err error
		bytes, err = x509.DecryptPEMBlock(block, []byte(password))
		if err != nil {
			return nil, err
		}
	}
	return parsePrivateKey(bytes)
}

func parsePrivateKey(bytes []byte) (res crypto.PrivateKey, err error) {
	// ParsePKCS8PrivateKey handles RSA and EC keys; PKCS#1 needs its own call.
	res, err = x509.ParsePKCS8PrivateKey(bytes)
	if err == nil {
		return res, nil
	}
	res, err = x509.ParsePKCS1PrivateKey(bytes)
	if err == nil {
		return res, nil
	}
	res, err = x509.ParseECPrivateKey(bytes)
	if err == nil {
		return res, nil
	}
	return nil, ErrPEMBadPrivateKeyFormat
}
