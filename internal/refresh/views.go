// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package refresh

import "github.com/zackbabin/dub-analysis-tool-sub004/internal/models"

// View names, also the physical table names.
const (
	ViewUserEngagement      = "user_engagement_summary"
	ViewPortfolioConversion = "portfolio_conversion_summary"
	ViewCreatorEngagement   = "creator_engagement_summary"
	ViewEngagementFunnel    = "engagement_funnel"
	ViewDailyKPISnapshot    = "daily_kpi_snapshot"
)

// NewDubRegistry declares the production view DAG.
//
// The three summaries read only entity_aggregates and refresh first. The
// funnel folds the user and portfolio summaries into stage counts, and the
// KPI snapshot condenses the funnel plus creator rollup into a single row.
// The snapshot has no natural unique key, so it runs exclusive; everything
// else swaps shadow tables to keep readers unblocked.
func NewDubRegistry() (*Registry, error) {
	return NewRegistry([]*Node{
		{
			Name:      ViewUserEngagement,
			Mode:      models.RefreshNonBlocking,
			UniqueKey: []string{"user_id"},
			BuildQuery: `SELECT
					entity_id AS user_id,
					profile_views,
					pdp_views,
					session_count,
					profile_views + pdp_views + copy_count + subscription_count
						+ session_count + creator_taps + other_events AS total_events,
					CASE
						WHEN session_count >= 20 THEN 'power'
						WHEN session_count >= 5  THEN 'active'
						WHEN session_count >= 1  THEN 'casual'
						ELSE 'dormant'
					END AS engagement_tier,
					last_event_at
				FROM entity_aggregates`,
		},
		{
			Name:      ViewPortfolioConversion,
			Mode:      models.RefreshNonBlocking,
			UniqueKey: []string{"user_id"},
			BuildQuery: `SELECT
					entity_id AS user_id,
					pdp_views,
					copy_count,
					CASE WHEN pdp_views > 0
						THEN copy_count::DOUBLE / pdp_views
						ELSE 0
					END AS view_to_copy_rate,
					did_copy,
					did_subscribe
				FROM entity_aggregates`,
		},
		{
			Name:      ViewCreatorEngagement,
			Mode:      models.RefreshNonBlocking,
			UniqueKey: []string{"tap_bucket"},
			BuildQuery: `SELECT
					CASE
						WHEN creator_taps >= 10 THEN 'high'
						WHEN creator_taps >= 3  THEN 'medium'
						WHEN creator_taps >= 1  THEN 'low'
						ELSE 'none'
					END AS tap_bucket,
					COUNT(*) AS users,
					SUM(creator_taps) AS taps,
					SUM(subscription_count) AS subscriptions,
					COUNT(*) FILTER (WHERE did_subscribe) AS subscribers
				FROM entity_aggregates
				GROUP BY 1`,
		},
		{
			Name:      ViewEngagementFunnel,
			Deps:      []string{ViewUserEngagement, ViewPortfolioConversion},
			Mode:      models.RefreshNonBlocking,
			UniqueKey: []string{"stage"},
			BuildQuery: `SELECT 1 AS stage_order, 'engaged' AS stage,
					COUNT(*) AS users
				FROM user_engagement_summary WHERE total_events > 0
				UNION ALL
				SELECT 2, 'viewed_portfolio', COUNT(*)
				FROM portfolio_conversion_summary WHERE pdp_views > 0
				UNION ALL
				SELECT 3, 'copied', COUNT(*)
				FROM portfolio_conversion_summary WHERE did_copy
				UNION ALL
				SELECT 4, 'subscribed', COUNT(*)
				FROM portfolio_conversion_summary WHERE did_subscribe`,
		},
		{
			Name: ViewDailyKPISnapshot,
			Deps: []string{ViewEngagementFunnel, ViewCreatorEngagement},
			Mode: models.RefreshExclusive,
			BuildQuery: `SELECT
					CURRENT_DATE AS snapshot_date,
					(SELECT COALESCE(MAX(users), 0) FROM engagement_funnel
						WHERE stage = 'engaged') AS engaged_users,
					(SELECT COALESCE(MAX(users), 0) FROM engagement_funnel
						WHERE stage = 'copied') AS copying_users,
					(SELECT COALESCE(MAX(users), 0) FROM engagement_funnel
						WHERE stage = 'subscribed') AS subscribed_users,
					(SELECT COALESCE(SUM(taps), 0) FROM creator_engagement_summary) AS creator_taps,
					(SELECT COALESCE(SUM(subscriptions), 0) FROM creator_engagement_summary) AS subscriptions`,
		},
	})
}
