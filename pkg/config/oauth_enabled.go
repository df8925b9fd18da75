//go:build !cloudsight_nooauth

package config

// OAuthSupported reports whether this build can sign requests with OAuth1
const OAuthSupported = true
