// Package catalog defines the vault tools and registers them into a
// tools.Registry.
package catalog
