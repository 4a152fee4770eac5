// Package canvas is a minimal client for the Canvas LMS REST API.
//
// It covers the calls csync needs: listing the user's courses, a course's
// modules and module items, its folders and folder files, fetching a single
// file, and downloading file contents. Every list call follows the
// Link header pagination Canvas uses.
//
//	client := canvas.New("https://canvas.example.edu", token)
//	courses, err := client.Courses(ctx)
//
// Non-2xx responses are returned as *APIError, which matches ErrForbidden,
// ErrNotFound and ErrUnauthorized with errors.Is.
package canvas
