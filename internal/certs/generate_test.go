package certs

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(t *testing.T, p Paths) *x509.Certificate {
	t.Helper()
	pair, err := tls.LoadX509KeyPair(p.Cert, p.Key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)
	return cert
}

func TestEnsure_GeneratesAndReuses(t *testing.T) {
	dir := t.TempDir()

	p, err := Ensure(dir, "kiosk.lan", "10.1.2.3")
	require.NoError(t, err)

	cert := leaf(t, p)
	assert.Contains(t, cert.DNSNames, "localhost")
	assert.Contains(t, cert.DNSNames, "kiosk.lan")
	assert.True(t, containsIP(cert.IPAddresses, net.ParseIP("10.1.2.3")))
	assert.True(t, cert.NotAfter.After(time.Now().Add(300*24*time.Hour)))

	info, err := os.Stat(p.Key)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := Ensure(dir)
	require.NoError(t, err)
	assert.Equal(t, cert.SerialNumber, leaf(t, again).SerialNumber)
}

func TestEnsure_RenewsExpiringCertificate(t *testing.T) {
	dir := t.TempDir()
	p := Paths{Cert: dir + "/" + certFile, Key: dir + "/" + keyFile}

	// issued a year ago, expires within the renewal window
	require.NoError(t, generate(p, []string{"localhost"}, time.Now().Add(-validity+time.Hour)))
	old := leaf(t, p)

	got, err := Ensure(dir)
	require.NoError(t, err)
	assert.NotEqual(t, old.SerialNumber, leaf(t, got).SerialNumber)
}

func TestEnsure_ReplacesCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/"+certFile, []byte("junk"), 0644))
	require.NoError(t, os.WriteFile(dir+"/"+keyFile, []byte("junk"), 0600))

	p, err := Ensure(dir)
	require.NoError(t, err)
	assert.NotNil(t, leaf(t, p))
}

func TestNewTemplate_DeduplicatesHosts(t *testing.T) {
	tmpl, err := newTemplate([]string{"localhost", "localhost", "", "::1", "127.0.0.1"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost"}, tmpl.DNSNames)
	assert.Len(t, tmpl.IPAddresses, 2)
}

func containsIP(ips []net.IP, want net.IP) bool {
	for _, ip := range ips {
		if ip.Equal(want) {
			return true
		}
	}
	return false
}
