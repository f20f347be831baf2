/*
Package config loads fleetwatch configuration from the environment.

All options carry the FLEETWATCH_ prefix. A .env file in the working
directory is merged in when present (godotenv). The absence of
FLEETWATCH_ETCD_ENDPOINTS selects single-instance mode; everything else has
a documented default.
*/
package config
