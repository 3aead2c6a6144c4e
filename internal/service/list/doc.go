// Package list implements mailing-list lifecycle management.
//
// The service layer holds the business logic for creating and reading
// lists. It depends on the Repository interface defined here and never
// imports from api/; the Postgres implementation lives in
// repository/postgres/.
package list
