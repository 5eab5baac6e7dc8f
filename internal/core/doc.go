// Package core runs catalog imports on behalf of the HTTP, queue and CLI
// front ends.
//
// # Lifecycle
//
//  1. [Service.StartImport] validates the upload, stores it under the upload
//     directory, records a pending [catalog.ImportRecord] and dispatches it.
//  2. A [Dispatcher] hands the import ID to a runner: [LocalDispatcher] runs
//     it on a goroutine, the queue package pushes it to Redis.
//  3. [Service.RunImport] waits for the single import slot of the
//     [ImportLimiter], runs the engine and records the outcome. Failed
//     blocks produce a CSV report under the report directory.
//  4. One notification is sent per run, with the report attached.
//
// Progress is broadcast to [Service.SubscribeProgress] listeners after every
// block. [Service.StartReportJanitor] deletes reports past their retention.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with support codes by
// [MapError]; see error_messages.go for the code reference.
package core
