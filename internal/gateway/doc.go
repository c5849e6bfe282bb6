// Package gateway is the Evolution API (WhatsApp) client: instance health
// probe, text sends and media sends with a per-operation retry policy.
package gateway
