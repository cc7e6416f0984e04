// Package vfs implements the VFS facade: a single entry point that
// dispatches init/create_dir/read/write/filelock_lock/... to whichever
// scheme-specific backend (local, HDFS, S3) a path's URI names, and
// owns the cross-cutting pieces (the internal worker pool, the
// cancelable task registry, the filelock refcount registry, metrics)
// that no individual backend should have to reimplement.
//
// A caller wires every scheme it needs before issuing any operation:
//
//	cfg := config.NewDefault()
//	v := vfs.New(cfg)
//	v.RegisterBackend(config.SchemeFile, local.NewBackend())
//	v.RegisterBackend(config.SchemeHDFS, hdfs.NewBackend(hdfs.NewDefaultConfig()))
//	s3Backend, err := s3.NewBackend(ctx, "my-bucket", s3.NewDefaultConfig())
//	if err != nil {
//		// handle
//	}
//	v.RegisterBackend(config.SchemeS3, s3Backend)
//	collector, err := metrics.NewCollector(nil)
//	if err != nil {
//		// handle
//	}
//	v.SetMetrics(collector)
//
//	if err := v.Write(ctx, "file:///tmp/x", []byte("data")); err != nil {
//		// handle
//	}
package vfs
