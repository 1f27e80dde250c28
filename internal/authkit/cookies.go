package authkit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// IsSecureRequest reports whether the request arrived over HTTPS. Proxy headers are
// honored only when trustForwarded is set.
func IsSecureRequest(request *http.Request, trustForwarded bool) bool {
	if request.TLS != nil {
		return true
	}
	if !trustForwarded {
		return false
	}
	for _, protocol := range strings.Split(request.Header.Get("X-Forwarded-Proto"), ",") {
		if strings.EqualFold(strings.TrimSpace(protocol), "https") {
			return true
		}
	}
	forwarded := strings.ToLower(request.Header.Get("Forwarded"))
	return forwarded != "" && strings.Contains(forwarded, "proto=https")
}

// SessionCookieDomain derives the cookie Domain attribute. A configured domain wins;
// localhost and IP literals stay host-only; otherwise the registrable domain from the
// public suffix list is used so the cookie is shared across subdomains
// (app.example.com -> example.com, app.example.co.uk -> example.co.uk).
func SessionCookieDomain(host string, configuredDomain string) string {
	if configured := strings.TrimSpace(configuredDomain); configured != "" {
		return configured
	}
	hostname := strings.TrimSpace(host)
	if splitHost, _, err := net.SplitHostPort(hostname); err == nil {
		hostname = splitHost
	}
	hostname = strings.Trim(strings.ToLower(hostname), "[]")
	if hostname == "" || hostname == "localhost" || strings.HasSuffix(hostname, ".localhost") {
		return ""
	}
	if net.ParseIP(hostname) != nil {
		return ""
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil || registrable == hostname {
		return ""
	}
	return registrable
}

func writeSessionCookie(writer http.ResponseWriter, request *http.Request, configuration ServerConfig, sessionToken string, expiresAt time.Time) {
	http.SetCookie(writer, &http.Cookie{
		Name:     configuration.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		Domain:   SessionCookieDomain(request.Host, configuration.CookieDomain),
		Expires:  expiresAt,
		Secure:   IsSecureRequest(request, configuration.TrustForwardedProto),
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	})
}

func clearSessionCookie(writer http.ResponseWriter, request *http.Request, configuration ServerConfig) {
	http.SetCookie(writer, &http.Cookie{
		Name:     configuration.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   SessionCookieDomain(request.Host, configuration.CookieDomain),
		MaxAge:   -1,
		Secure:   IsSecureRequest(request, configuration.TrustForwardedProto),
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	})
}
