// Package gmtpaydashboard and its sub-packages implement the backend services that aggregate on-chain stablecoin
// payments into the GMT Pay receiving addresses across multiple blockchains.
/*
gmt-pay-dashboard provides you with two microservices:

1) a dashboard microservice (package dashboard) that implements a RESTful API for clients to read the aggregated
 transfers, per-holder summaries and card payment analytics, export them as CSV and control the snapshot cache.

2) an aggregator microservice (package cmd/aggregator) that runs the aggregation pipeline on a fixed interval,
 persists each snapshot to the database and publishes newly seen transfers to the message broker.

Architecture

Both services share the same aggregation pipeline (package aggregator). The pipeline fans out to one chain adapter
per watch target, fetching forward from the latest transfer the previous snapshot recorded for each chain (the
full configured history window on a first run), merges the results with the previous snapshot so a failing
provider degrades the view instead of losing it, and derives the USD value and card face value of every transfer. Chain adapters (package lib/chain) speak the Etherscan V2 unified API for the EVM chains and the Helius
enhanced API for Solana; new chains can be added behind the same interface.

The dashboard keeps the latest snapshot in a TTL cache (package aggregator). Reads on a fresh snapshot are served
from memory; reads on a stale one trigger a single pipeline run shared by all concurrent callers. A background
refresher keeps the snapshot warm so clients rarely pay for a provider round trip.

Snapshots persist through a database product agnostic layer (package lib/store) with MongoDB and PostgreSQL
backends. The aggregator writes them, the dashboard seeds its cache from the latest one at startup so a restart
does not begin cold. Newly seen transfers are published to a message broker implemented as a product agnostic
layer (package lib/msg) so downstream consumers such as a payment reconciler do not have to poll.

The watch targets, accepted tokens, token USD rates and holder tiers are configured via a JSON config file and OS
ENV variables (package lib/config). The microservices can also be monitored via a Prometheus API by setting the
flag "-m" at startup.

Dashboard

The dashboard microservice can be started running cmd/dashboard/main.go. It exposes an HTTP RESTful API serving
the aggregated transfers (with chain and token filters), per-holder summaries with tier assignment, the watched
targets, snapshot status, a forced refresh endpoint and a CSV export of the full transfer set.

Aggregator

The aggregator microservice can be started running cmd/aggregator/main.go. It is headless: on each interval it
runs the pipeline, saves the snapshot and publishes the transfers not seen before to the message broker, grouped
by chain. It resumes from the last persisted snapshot after a restart.
*/
package gmtpaydashboard
