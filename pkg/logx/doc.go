// Package logx is skalli's logging front end on zerolog.
//
// The console sink is human readable with a short file:line caller; the file
// sink writes one JSON object per line. Both are owned by a Service whose
// Apply swaps them when the config file is reloaded.
package logx
