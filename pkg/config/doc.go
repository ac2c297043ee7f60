/*
Package config loads and saves fleetd's TOML node configuration (bind
address, data directory, seed peers, LLM and policy settings, loop
intervals). Default returns the zero-config baseline; Load overlays a
TOML file on top of it so partial config files only need to mention the
fields they want to change.
*/
package config
