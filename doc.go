// Package auth keeps the current club member and their profile consistent
// with an external identity provider.
//
// The identity provider issues sessions immediately while the profile store
// may lag behind its writes. A Reconciler observes provider notifications,
// reads the profile with bounded exponential backoff and publishes the result
// to subscribers. Every observation carries an epoch; results from cycles
// superseded by a newer session or by Close are discarded.
//
//	rec := auth.NewReconciler(provider, store, auth.WithConfig(cfg))
//	if err := rec.Start(ctx); err != nil {
//		return err
//	}
//	defer rec.Close()
//
//	user, err := rec.Login(ctx, email, password)
//	if err != nil {
//		fmt.Println(auth.UserMessage(err))
//	}
package auth
