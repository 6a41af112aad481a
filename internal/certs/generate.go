// Package certs provides the self-signed certificate used when the kiosk
// UI backend is served over HTTPS.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	certFile = "kiosk.crt"
	keyFile  = "kiosk.key"

	validity = 365 * 24 * time.Hour
	// renewBefore regenerates certificates that are about to expire.
	renewBefore = 7 * 24 * time.Hour
)

// Paths locates a certificate and its key on disk.
type Paths struct {
	Cert string
	Key  string
}

// Ensure returns a usable certificate pair in dir, generating a fresh one
// when none exists, it cannot be loaded or it is close to expiry. extra
// adds host names or IPs to the certificate.
func Ensure(dir string, extra ...string) (Paths, error) {
	p := Paths{
		Cert: filepath.Join(dir, certFile),
		Key:  filepath.Join(dir, keyFile),
	}

	if notAfter, err := loadExpiry(p); err == nil && time.Until(notAfter) > renewBefore {
		return p, nil
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return Paths{}, fmt.Errorf("create cert directory: %w", err)
	}
	if err := generate(p, append(localHosts(), extra...), time.Now()); err != nil {
		return Paths{}, fmt.Errorf("generate certificate: %w", err)
	}
	return p, nil
}

func loadExpiry(p Paths) (time.Time, error) {
	pair, err := tls.LoadX509KeyPair(p.Cert, p.Key)
	if err != nil {
		return time.Time{}, err
	}
	if len(pair.Certificate) == 0 {
		return time.Time{}, errors.New("empty certificate chain")
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return time.Time{}, err
	}
	return leaf.NotAfter, nil
}

// localHosts lists the names a browser on this machine may use.
func localHosts() []string {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if name, err := os.Hostname(); err == nil && name != "" {
		hosts = append(hosts, name)
	}
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				hosts = append(hosts, ipnet.IP.String())
			}
		}
	}
	return hosts
}

func newTemplate(hosts []string, now time.Time) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("serial number: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Exam Kiosk"},
			CommonName:   "exam-kiosk",
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	seen := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}
	return tmpl, nil
}

func generate(p Paths, hosts []string, now time.Time) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("private key: %w", err)
	}

	tmpl, err := newTemplate(hosts, now)
	if err != nil {
		return err
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}

	if err := writePEM(p.Key, "EC PRIVATE KEY", keyDER, 0600); err != nil {
		return err
	}
	return writePEM(p.Cert, "CERTIFICATE", der, 0644)
}

// writePEM replaces path atomically so a crash never leaves half a file.
func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := pem.Encode(tmp, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}
