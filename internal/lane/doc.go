// Package lane tracks how work spreads across execution tiers and reorders
// tier candidates so an over-used tier stops winning ties.
//
// Counters live in memory only. Routed counts are lifetime totals feeding
// the fairness share; active counts follow in-flight work per tier and
// saturate at zero on release.
package lane
