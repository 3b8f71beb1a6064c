// Package typing sends periodic typing activities while a handler works.
//
//	ind := typing.NewIndicator(cfg.Typing.Interval, logger)
//	ind.Start(ctx, tc)
//	defer ind.Stop()
package typing
