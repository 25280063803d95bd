// Package shim installs the script processor polyfill into a render engine
// and creates script processor nodes on top of it.
package shim
