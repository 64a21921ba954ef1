package authflow

import (
	"fmt"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// identityClaims are the display-oriented claims extracted from provider
// tokens. The tokens are parsed without signature verification: claims feed
// account bookkeeping and listing UIs only, never authorization decisions.
type identityClaims struct {
	ObjectID string
	TenantID string
	Email    string
	Name     string
}

// AccountKey derives the stable account identifier: the user's sign-in name
// when present, otherwise object id qualified by tenant.
func (c identityClaims) AccountKey() string {
	if c.Email != "" {
		return c.Email
	}
	if c.ObjectID != "" {
		return c.ObjectID + "." + c.TenantID
	}
	return uuid.NewString()
}

// tokenClaims extracts identity claims from the exchange result, preferring
// the ID token over the access token.
func tokenClaims(tok *oauth2.Token) (identityClaims, error) {
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		if claims, err := parseClaims(idToken); err == nil {
			return claims, nil
		}
	}
	return parseClaims(tok.AccessToken)
}

func parseClaims(raw string) (identityClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return identityClaims{}, fmt.Errorf("parsing token claims: %w", err)
	}

	c := identityClaims{
		ObjectID: stringClaim(claims, "oid"),
		TenantID: stringClaim(claims, "tid"),
		Name:     stringClaim(claims, "name"),
	}
	for _, key := range []string{"preferred_username", "upn", "email"} {
		if v := stringClaim(claims, key); v != "" {
			c.Email = v
			break
		}
	}
	if c.TenantID == "" {
		return identityClaims{}, fmt.Errorf("token carries no tenant claim")
	}
	return c, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
