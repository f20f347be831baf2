/*
Package freqtrade implements the client side of a bot's Freqtrade REST API.

The monitor consumes two endpoints: GET /profit for the aggregate performance
scalars upserted into BotMetrics, and the paginated GET /trades feed that the
trade synchronizer ingests. Authentication is HTTP basic with credentials
from the bot's secure config; the transport and base URL come from the
runtime abstraction so the client is deployment-topology agnostic.
*/
package freqtrade
