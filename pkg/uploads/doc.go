// Package uploads brokers direct-to-object-store file transfers.
//
// Clients never stream file bodies through the API. They ask the Broker for
// a presigned URL, and the broker only signs one after the authz gate
// allows the operation. Uploads reserve total storage and the daily upload
// budget before signing, so two concurrent uploads cannot both slip under
// a limit. Downloads are counted against the monthly budget when signed.
//
// Object keys are always under OrgPrefix(orgID); a download for a key
// outside that prefix fails with ErrForeignObject.
package uploads
