package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	devCertName = "dev_cert.pem"
	devKeyName  = "dev_key.pem"
)

// tlsConfigFor WebTransport 要求 HTTP/3 与 TLS 1.3
func tlsConfigFor(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h3", "webtransport"},
		MinVersion:   tls.VersionTLS13,
	}
}

// devTLSConfig 复用 dir 下已有的开发证书，没有则现签一张。
// 仅限本地开发，生产环境走配置里的证书路径
func devTLSConfig(dir string, logger *slog.Logger) (*tls.Config, error) {
	certPath := filepath.Join(dir, devCertName)
	keyPath := filepath.Join(dir, devKeyName)

	if cert, err := tls.LoadX509KeyPair(certPath, keyPath); err == nil {
		logger.Info("Reusing dev certificate", "cert", certPath)
		return tlsConfigFor(cert), nil
	}

	cert, err := mintDevCert(certPath, keyPath, logger)
	if err != nil {
		return nil, err
	}
	return tlsConfigFor(cert), nil
}

// mintDevCert 签一张 10 天有效期的 localhost 证书并落盘。
// 浏览器对 WebTransport 自签证书的有效期上限是 14 天，不能签太长
func mintDevCert(certPath, keyPath string, logger *slog.Logger) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"EliteScore Dev"}},
		// 回拨一小时，容忍机器间时钟偏差
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(10 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return tls.Certificate{}, err
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return tls.Certificate{}, err
	}
	logger.Info("Minted dev certificate", "cert", certPath, "key", keyPath, "not_after", template.NotAfter)

	return tls.X509KeyPair(certPEM, keyPEM)
}
