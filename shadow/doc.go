// Package shadow replicates the writes of a primary MongoDB deployment to secondary
// ("shadow") deployments.
//
// A [Manager] opens every enabled secondary concurrently and subscribes to a [capture.Tap]
// installed on the primary client. Each captured write is queued on one dispatcher per
// secondary and replayed there in capture order. Replication is best effort: a failure on a
// secondary is logged and reported to the [Observer] but never affects the primary write.
//
// A host application wires it like this:
//
//	tap := capture.NewTap()
//	client, err := topo.Connect(ctx, primaryURI, topo.WithMonitor(tap.Monitor()))
//	...
//	metrics.Init(prometheus.DefaultRegisterer)
//	m := shadow.New(tap, shadow.OptionsFromConfig(cfg))
//	err = m.Initialize(ctx, cfg.SecondaryTargets())
//	...
//	go http.ListenAndServe(addr, server.Handler(m, nil))
//	defer m.Terminate(ctx)
//
// Writes inside a transaction are replayed per statement as they are acknowledged,
// even if the transaction later aborts.
package shadow
