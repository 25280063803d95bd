// Package server implements the HTTP monitoring and management API of the
// service and its optional mDNS advertisement.
package server
